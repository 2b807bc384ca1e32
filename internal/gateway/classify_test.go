package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestClassifyQuotaKeywords(t *testing.T) {
	for _, msg := range []string{
		"Quota exceeded for bucket",
		"User Rate Limit Exceeded",
		"rate limit exceeded, try again later",
		"the storage quota has been reached",
	} {
		assert.Equal(t, ClassQuota, Classify(errors.New(msg)), msg)
	}
}

func TestClassifyGoogleAPICodes(t *testing.T) {
	cases := []struct {
		code int
		want Class
	}{
		{http.StatusTooManyRequests, ClassQuota},
		{http.StatusUnauthorized, ClassPermanent},
		{http.StatusForbidden, ClassPermanent},
		{http.StatusBadRequest, ClassPermanent},
		{http.StatusNotFound, ClassPermanent},
		{http.StatusInternalServerError, ClassTransient},
		{http.StatusServiceUnavailable, ClassTransient},
	}
	for _, tc := range cases {
		err := &googleapi.Error{Code: tc.code, Message: "backend said no"}
		assert.Equal(t, tc.want, Classify(err), "code %d", tc.code)
	}
}

func TestClassifyWrappedGoogleAPIError(t *testing.T) {
	err := fmt.Errorf("uploading object: %w", &googleapi.Error{Code: http.StatusForbidden})
	assert.Equal(t, ClassPermanent, Classify(err))
}

func TestClassifyTimeoutsAreTransient(t *testing.T) {
	assert.Equal(t, ClassTransient, Classify(context.DeadlineExceeded))
	assert.Equal(t, ClassTransient, Classify(fmt.Errorf("write: %w", context.DeadlineExceeded)))
}

func TestClassifyUnknownDefaultsToTransient(t *testing.T) {
	assert.Equal(t, ClassTransient, Classify(errors.New("connection reset by peer")))
}
