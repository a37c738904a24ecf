package worker

import (
	"bytes"
	"io"
	"log"
)

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

func closeFileFlow(res io.ReadCloser) {
	if res == nil {
		return
	}

	if err := res.Close(); err != nil {
		log.Println("Worker failed to close fileflow:", err)
	}
}
