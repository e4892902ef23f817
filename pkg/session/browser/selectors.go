package browser

// DOM selectors and page probes. The site changes its markup often; update
// these when extraction breaks.
const (
	tweetArticle  = `article[data-testid="tweet"]`
	usernameInput = `input[autocomplete="username"]`
	passwordInput = `input[name="password"]`
)

// extractJS returns the visible posts in feed order
const extractJS = `
(function() {
	const results = [];
	document.querySelectorAll('article[data-testid="tweet"]').forEach(el => {
		try {
			const statusLink = el.querySelector('a[href*="/status/"]');
			const id = statusLink?.href?.match(/status\/(\d+)/)?.[1];
			if (!id) return;

			let author = '';
			const userNameEl = el.querySelector('[data-testid="User-Name"]');
			const handleLink = userNameEl?.querySelector('a[href^="/"]');
			if (handleLink) {
				author = handleLink.getAttribute('href')?.replace('/', '') || '';
			}

			const text = el.querySelector('[data-testid="tweetText"]')?.innerText || '';

			const media = [];
			el.querySelectorAll('[data-testid="tweetPhoto"] img, [data-testid="videoPlayer"] video').forEach(m => {
				const src = m.src || m.poster;
				if (src) media.push(src);
			});

			results.push({
				id,
				author,
				timestamp: el.querySelector('time')?.getAttribute('datetime') || '',
				text,
				media_urls: media,
				url: statusLink?.href || '',
				has_video: el.querySelector('[data-testid="videoPlayer"]') !== null
			});
		} catch (e) {
			console.error('extract failed', e);
		}
	});
	return results;
})()
`

// visibleIDsJS returns only the IDs of the visible posts
const visibleIDsJS = `
Array.from(document.querySelectorAll('article[data-testid="tweet"] a[href*="/status/"]'))
	.map(a => a.href.match(/status\/(\d+)/)?.[1])
	.filter(Boolean)
`

// pageStateJS classifies the current page
const pageStateJS = `
(function() {
	const path = location.pathname;
	const body = document.body?.innerText || '';
	if (path.includes('/account/access') || path.includes('/challenge') ||
		document.querySelector('iframe[src*="arkose"]') ||
		/verify your identity|unusual activity|confirm it.s you/i.test(body)) {
		return 'challenge';
	}
	const retry = Array.from(document.querySelectorAll('[role="button"], button'))
		.some(b => (b.innerText || '').trim() === 'Retry');
	if (body.includes('Something went wrong') && retry) {
		return 'error';
	}
	if (document.querySelector('[data-testid="emptyState"]') || /No results for/.test(body)) {
		return 'empty';
	}
	return 'ok';
})()
`

// clickRetryJS presses the Retry button and reports whether one was found
const clickRetryJS = `
(function() {
	const b = Array.from(document.querySelectorAll('[role="button"], button'))
		.find(b => (b.innerText || '').trim() === 'Retry');
	if (b) { b.click(); return true; }
	return false;
})()
`

const (
	pageChallenge = "challenge"
	pageError     = "error"
	pageEmpty     = "empty"
)
