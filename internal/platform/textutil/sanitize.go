package textutil

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var plainTextPolicy = bluemonday.StrictPolicy()

// SanitizePlainText strips all markup from customer-supplied free text and
// collapses surrounding whitespace. Suitable for order notes and cancel
// reasons that end up in admin views.
func SanitizePlainText(input string) string {
	return strings.TrimSpace(plainTextPolicy.Sanitize(input))
}
