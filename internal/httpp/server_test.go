package httpp

import (
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/mediamerge/internal/logger"
	"github.com/bluenviron/mediamerge/internal/test"
)

func TestServer(t *testing.T) {
	s := &Server{
		Address:      "127.0.0.1:0",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("hello")) //nolint:errcheck
		}),
		Parent: test.NilLogger,
	}
	err := s.Initialize()
	require.NoError(t, err)
	defer s.Close()

	res, err := http.Get("http://" + s.Addr().String() + "/")
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "mediamerge", res.Header.Get("Server"))

	byts, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, "hello", string(byts))
}

func TestServerInvalidTimeouts(t *testing.T) {
	s := &Server{
		Address:     "127.0.0.1:0",
		ReadTimeout: 10 * time.Second,
		Parent:      test.NilLogger,
	}
	err := s.Initialize()
	require.EqualError(t, err, "invalid WriteTimeout")
}

func TestServerLogsRequests(t *testing.T) {
	logged := make(chan string, 1)

	s := &Server{
		Address:      "127.0.0.1:0",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}),
		Parent: test.Logger(func(_ logger.Level, format string, args ...interface{}) {
			logged <- fmt.Sprintf(format, args...)
		}),
	}
	err := s.Initialize()
	require.NoError(t, err)
	defer s.Close()

	res, err := http.Get("http://" + s.Addr().String() + "/missing")
	require.NoError(t, err)
	res.Body.Close()

	require.Equal(t, http.StatusNotFound, res.StatusCode)
	require.Contains(t, <-logged, "GET /missing: 404 Not Found, 0 bytes in")
}
