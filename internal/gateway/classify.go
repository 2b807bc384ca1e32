package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
)

// Class is the closed classification every upload error resolves to. All
// retry/give-up decisions flow through Classify; nothing else inspects
// backend errors.
type Class int

const (
	ClassTransient Class = iota
	ClassQuota
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassQuota:
		return "quota_exceeded"
	case ClassPermanent:
		return "permanent"
	default:
		return "transient"
	}
}

var quotaKeywords = []string{
	"quota exceeded",
	"user rate limit exceeded",
	"rate limit exceeded",
	"storage quota",
}

// Classify maps a backend error to its class. Unknown errors classify as
// transient so the safety net stays local preservation, never silent loss.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	for _, kw := range quotaKeywords {
		if strings.Contains(msg, kw) {
			return ClassQuota
		}
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusTooManyRequests:
			return ClassQuota
		case http.StatusUnauthorized, http.StatusForbidden,
			http.StatusBadRequest, http.StatusNotFound:
			return ClassPermanent
		default:
			return ClassTransient
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return ClassTransient
	}

	return ClassTransient
}
