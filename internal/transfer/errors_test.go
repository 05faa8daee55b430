package transfer

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNetworkError_Error(t *testing.T) {
	tests := []struct {
		name       string
		err        *NetworkError
		wantFormat string
	}{
		{
			name: "with HTTP status code",
			err: &NetworkError{
				Operation:  "fetch_artifact",
				StatusCode: 503,
				APIMessage: "Service Unavailable",
			},
			wantFormat: "network error during fetch_artifact (HTTP 503): Service Unavailable",
		},
		{
			name: "without HTTP status code",
			err: &NetworkError{
				Operation:  "copy_artifact",
				APIMessage: "unexpected EOF",
			},
			wantFormat: "network error during copy_artifact: unexpected EOF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantFormat, tt.err.Error())
		})
	}
}

func TestNetworkError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := error(&NetworkError{Operation: "copy_artifact", APIMessage: cause.Error(), Err: cause})

	assert.ErrorIs(t, err, cause)

	var netErr *NetworkError
	assert.ErrorAs(t, err, &netErr)
	assert.Equal(t, "copy_artifact", netErr.Operation)
}

func TestFileError(t *testing.T) {
	err := error(&FileError{Path: "/data/app.apk", Op: "create", Err: fs.ErrPermission})

	assert.Equal(t, "file error during create of /data/app.apk: permission denied", err.Error())
	assert.ErrorIs(t, err, fs.ErrPermission)
}

func TestErrorType(t *testing.T) {
	assert.Equal(t, "http_status", errorType(&NetworkError{StatusCode: 404}))
	assert.Equal(t, "network", errorType(&NetworkError{}))
	assert.Equal(t, "unknown", errorType(errors.New("x")))
}
