package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/fulldump/box"
)

// Handler puts a routing guard in front of the box dispatcher. Box reports
// unmatched resources and actions through the request context and returns
// before any interceptor runs, so without the guard those requests would
// close with an empty 200.
func Handler(b *box.B) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		locator, action := splitActionPath(r.URL.EscapedPath())

		resource := b.Match(locator, map[string]string{})
		if resource == nil {
			w.WriteHeader(http.StatusNotFound)
			PrettyError{
				Message:     "not found",
				Description: fmt.Sprintf("resource '%s' not found", r.URL.String()),
			}.MarshalTo(w)
			return
		}

		if !hasAction(resource, r.Method, action) {
			w.WriteHeader(http.StatusMethodNotAllowed)
			PrettyError{
				Message:     "method not allowed",
				Description: fmt.Sprintf("method '%s' not allowed on '%s'", r.Method, r.URL.String()),
			}.MarshalTo(w)
			return
		}

		b.ServeHTTP(w, r)
	})
}

// splitActionPath follows the box url convention: everything after the last
// colon names the action, the rest locates the resource.
func splitActionPath(url string) (locator, action string) {
	i := strings.LastIndex(url, ":")
	if i < 0 {
		return url, ""
	}
	return url[:i], url[i+1:]
}

func hasAction(resource *box.R, method, action string) bool {
	for _, a := range resource.GetActions() {
		if a.HttpMethod != method {
			continue
		}
		if a.Bound && action == "" {
			return true
		}
		if !a.Bound && a.Name == action {
			return true
		}
	}
	return false
}
