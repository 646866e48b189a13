package httpp

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/bluenviron/mediamerge/internal/logger"
)

// statusRecorder keeps track of the response, for logging,
// and refreshes the write deadline before every write.
type statusRecorder struct {
	http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration
	status       int
	size         int
}

func (w *statusRecorder) refreshDeadline() {
	if w.writeTimeout != 0 {
		w.rc.SetWriteDeadline(time.Now().Add(w.writeTimeout)) //nolint:errcheck
	}
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.refreshDeadline()
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	w.refreshDeadline()
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

// wrapHandler returns h wrapped with request filtering, the Server header,
// request logging, write deadlines and exit on panic.
func wrapHandler(h http.Handler, writeTimeout time.Duration, l logger.Writer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// exit when there's a panic inside the HTTP handler.
		// https://github.com/golang/go/issues/16542
		defer func() {
			if err := recover(); err != nil {
				buf := make([]byte, 1<<20)
				n := runtime.Stack(buf, true)
				fmt.Fprintf(os.Stderr, "panic: %v\n\n%s", err, buf[:n])
				os.Exit(1)
			}
		}()

		rec := &statusRecorder{
			ResponseWriter: w,
			rc:             http.NewResponseController(w),
			writeTimeout:   writeTimeout,
		}

		start := time.Now()

		rec.Header().Set("Server", "mediamerge")

		if r.URL.Path == "" || r.URL.Path[0] != '/' {
			rec.WriteHeader(http.StatusBadRequest)
		} else {
			h.ServeHTTP(rec, r)
		}

		l.Log(logger.Debug, "[conn %v] %s %s: %d %s, %d bytes in %v",
			r.RemoteAddr, r.Method, r.URL.Path, rec.status, http.StatusText(rec.status),
			rec.size, time.Since(start))
	})
}
