// Command mock_backend serves the presentation AI contract locally so the
// presenter can be exercised end to end without the real service.
package main

import (
	"flag"
	"net/http"

	"live-presenter/internal/adapter/backend"

	"github.com/golang/glog"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	slides := flag.Int("slides", 3, "slides per generated presentation")
	omitIDs := flag.Bool("omit-ids", false, "leave voice and video ids out of generation replies")
	_ = flag.Set("logtostderr", "true")
	flag.Parse()
	defer glog.Flush()

	mock := backend.NewMock()
	mock.Slides = *slides
	mock.OmitIDs = *omitIDs

	glog.Infof("Mock backend: listening on %s", *addr)
	if err := http.ListenAndServe(*addr, mock.Handler()); err != nil {
		glog.Fatalf("Mock backend: %v", err)
	}
}
