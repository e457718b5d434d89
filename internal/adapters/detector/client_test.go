package detector

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

const sampleResponse = `[
  {"class": 11, "confidence": 0.6548390984535217, "name": "sugarcane",
   "xmax": 646.2578735351562, "xmin": 474.721435546875,
   "ymax": 1155.9974365234375, "ymin": 834.8707885742188},
  {"class": 11, "confidence": 0.6288385987281799, "name": "sugarcane",
   "xmax": 1398.083251953125, "xmin": 1242.162109375,
   "ymax": 1085.2777099609375, "ymin": 750.7573852539062}
]`

// serve starts an in-memory model server and returns a client wired to it.
func serve(t *testing.T, handler fasthttp.RequestHandler) *Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	hc := &fasthttp.Client{
		Dial: func(addr string) (net.Conn, error) { return ln.Dial() },
	}
	return NewWithClient(hc, "http://detector.local/", "street2sat", 2*time.Second)
}

func TestDetect(t *testing.T) {
	var gotPath, gotMethod string
	var gotBody []byte
	c := serve(t, func(ctx *fasthttp.RequestCtx) {
		gotPath = string(ctx.Path())
		gotMethod = string(ctx.Method())
		gotBody = append([]byte(nil), ctx.PostBody()...)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(sampleResponse)
	})

	dets, err := c.Detect(context.Background(), []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMethod != "POST" || gotPath != "/predictions/street2sat" {
		t.Errorf("unexpected request %s %s", gotMethod, gotPath)
	}
	if string(gotBody) != "jpeg-bytes" {
		t.Errorf("image not forwarded: %q", gotBody)
	}
	if len(dets) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(dets))
	}
	if dets[0].Class != 11 || dets[0].Name != "sugarcane" {
		t.Errorf("unexpected detection %+v", dets[0])
	}
	if dets[0].YMin != 834.8707885742188 || dets[0].YMax != 1155.9974365234375 {
		t.Errorf("box not decoded: %+v", dets[0].BoundingBox)
	}
}

func TestDetect_ServerError(t *testing.T) {
	c := serve(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		ctx.SetBodyString("model not loaded")
	})

	if _, err := c.Detect(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected error")
	}
}

func TestDetect_ExpiredContext(t *testing.T) {
	c := serve(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString("[]")
	})

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	if _, err := c.Detect(ctx, []byte("x")); err == nil {
		t.Fatal("expected deadline error")
	}
}

func TestDecodeDetections(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bare array", `[{"class": 5, "ymin": 1, "ymax": 2}]`, 1},
		{"batched", `[[{"class": 5}, {"class": 11}]]`, 2},
		{"wrapped", `{"results": [{"class": 5}]}`, 1},
		{"empty", `[]`, 0},
		{"empty batch", `[[]]`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dets, err := decodeDetections([]byte(tt.body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if dets == nil {
				t.Fatal("expected non-nil slice")
			}
			if len(dets) != tt.want {
				t.Errorf("expected %d, got %d", tt.want, len(dets))
			}
		})
	}

	if _, err := decodeDetections([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid body")
	}
}
