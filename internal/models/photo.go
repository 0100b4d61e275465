package models

import (
	"strings"

	apperrors "unocoin-client/internal/errors"
)

// PhotoSlot names a KYC document photo.
type PhotoSlot string

const (
	PhotoPancard PhotoSlot = "pancard"
	PhotoAddress PhotoSlot = "address"
	PhotoSelfie  PhotoSlot = "photo"
)

// PhotoSlots lists every slot required for a complete submission.
var PhotoSlots = []PhotoSlot{PhotoPancard, PhotoAddress, PhotoSelfie}

// ParsePhotoSlot validates a slot name.
func ParsePhotoSlot(s string) (PhotoSlot, error) {
	for _, slot := range PhotoSlots {
		if string(slot) == s {
			return slot, nil
		}
	}
	return "", apperrors.Wrapf(apperrors.ErrInvalidPhotoSlot, "%q", s)
}

// Photo is either a captured image or the "yes" placeholder the exchange
// reports for a document it already holds.
type Photo struct {
	base64      string
	url         string
	placeholder bool
}

// NewPhoto wraps a captured base64 image, optionally a data URI.
func NewPhoto(base64 string) *Photo {
	return &Photo{base64: base64}
}

// NewStoredPhoto references an image already uploaded to the exchange.
func NewStoredPhoto(url string) *Photo {
	return &Photo{url: url, placeholder: true}
}

// PlaceholderPhoto is a document the exchange has but did not return.
func PlaceholderPhoto() *Photo {
	return &Photo{placeholder: true}
}

func (p *Photo) Base64() string { return p.base64 }
func (p *Photo) URL() string    { return p.url }

// IsPlaceholder is true for documents known only by the "yes" marker.
func (p *Photo) IsPlaceholder() bool { return p.placeholder }

// Payload returns the base64 body without any data URI prefix.
func (p *Photo) Payload() string {
	if i := strings.Index(p.base64, ";base64,"); i >= 0 && strings.HasPrefix(p.base64, "data:") {
		return p.base64[i+len(";base64,"):]
	}
	return p.base64
}

// PhotoSet holds one photo per slot; a missing key means absent.
type PhotoSet map[PhotoSlot]*Photo

// Complete is true when every slot holds a photo or placeholder.
func (s PhotoSet) Complete() bool {
	for _, slot := range PhotoSlots {
		if s[slot] == nil {
			return false
		}
	}
	return true
}
