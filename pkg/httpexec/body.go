package httpexec

import (
	"compress/flate"
	"compress/gzip"
	"io"
	"net/http"

	"github.com/andybalholm/brotli"
)

// respBodyReader undoes the content encoding of resp. Closing the returned reader closes
// the response body.
func respBodyReader(resp *http.Response) (io.ReadCloser, error) {
	switch resp.Header.Get(ContentEncodingHeader) {
	case EncodingGzip:
		r, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		return &decodedBody{Reader: r, decoder: r, body: resp.Body}, nil
	case EncodingDeflate:
		r := flate.NewReader(resp.Body)
		return &decodedBody{Reader: r, decoder: r, body: resp.Body}, nil
	case EncodingBrotli:
		return &decodedBody{Reader: brotli.NewReader(resp.Body), body: resp.Body}, nil
	default:
		return resp.Body, nil
	}
}

type decodedBody struct {
	io.Reader
	decoder io.Closer
	body    io.Closer
}

func (d *decodedBody) Close() error {
	if d.decoder != nil {
		_ = d.decoder.Close()
	}
	return d.body.Close()
}
