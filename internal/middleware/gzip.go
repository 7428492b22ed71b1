package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

var compressor = chimiddleware.Compress(5, "application/json", "text/html", "text/plain")

type gzipBody struct {
	*gzip.Reader
	src io.ReadCloser
}

func (b gzipBody) Close() error {
	_ = b.Reader.Close()
	return b.src.Close()
}

// GzipMiddleware распаковывает тело запроса с Content-Encoding: gzip
// и сжимает ответ, если клиент принимает gzip.
func GzipMiddleware(next http.Handler) http.Handler {
	compressed := compressor(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Content-Encoding"), "gzip") {
			gr, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			r.Body = gzipBody{Reader: gr, src: r.Body}
			r.Header.Del("Content-Encoding")
			r.ContentLength = -1
		}

		compressed.ServeHTTP(w, r)
	})
}
