// ABOUTME: Caller identity passed to every data-source operation
// ABOUTME: Built from the authenticated user token for each request

package toolkit

import "strconv"

// Caller is the identity on whose behalf an operation is evaluated.
type Caller struct {
	ID          int               `json:"id"`
	Email       string            `json:"email"`
	FirstName   string            `json:"firstName"`
	LastName    string            `json:"lastName"`
	Team        string            `json:"team"`
	Role        string            `json:"role"`
	RenderingID int               `json:"renderingId"`
	Tags        map[string]string `json:"tags,omitempty"`
	Timezone    string            `json:"timezone"`
	RequestID   string            `json:"-"`
}

// IDString returns the caller id in the string form used for requester ids.
func (c *Caller) IDString() string {
	return strconv.Itoa(c.ID)
}
