package chat

import "errors"

// ErrMissingAccessGroupKey reports that the current access-group set has no
// usable member entry for a group message. Its text is the exact tag failed
// records carry, so persisted tags and live errors compare equal.
var ErrMissingAccessGroupKey = errors.New("MissingAccessGroupKeyError")

// DecryptionErrorTag renders err the way failed records carry it: the bare
// missing-key tag for ErrMissingAccessGroupKey, a prefixed cause otherwise.
func DecryptionErrorTag(err error) string {
	if errors.Is(err, ErrMissingAccessGroupKey) {
		return ErrMissingAccessGroupKey.Error()
	}
	return "Decryption failed: " + err.Error()
}
