package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

var ErrTooLarge = errors.New("object too large")

// Store keeps opaque objects and returns a URL they can be fetched from.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (url string, err error)
}

// ProfilePictureKey builds the object key for a user's profile picture.
func ProfilePictureKey(email, filename string, at time.Time) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" {
		name = "upload"
	}
	return fmt.Sprintf("profile-pictures/%s/%d-%s", email, at.UnixMilli(), name)
}
