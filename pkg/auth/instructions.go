package auth

import (
	"fmt"
	"io"
	"strings"
)

// WriteCookieExportGuide explains how to export a logged-in browser
// session as a cookie file, for accounts where the login form triggers
// verification
func WriteCookieExportGuide(w io.Writer) {
	rule := strings.Repeat("=", 72)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "EXPORTING SESSION COOKIES")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "1. Log in at https://x.com in a desktop browser.")
	fmt.Fprintln(w, "2. Install a cookie export extension that writes JSON")
	fmt.Fprintln(w, "   (for example \"Cookie-Editor\" > Export > JSON).")
	fmt.Fprintln(w, "3. Export the cookies for x.com and save them to a file.")
	fmt.Fprintln(w, "   The file must contain an auth_token cookie.")
	fmt.Fprintln(w, "4. Store it: xscrap auth login <login> --cookie-file <path>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The cookie file grants full access to the account. Keep it private")
	fmt.Fprintln(w, "and re-export it when collection reports an authentication failure.")
	fmt.Fprintln(w, rule)
}
