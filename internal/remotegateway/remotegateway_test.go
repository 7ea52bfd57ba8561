package remotegateway

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/zeebo/blake3"

	"github.com/leon-anavi/rvi-sota-client/internal/datatype"
	"github.com/leon-anavi/rvi-sota-client/internal/transferstore"
)

func mustMarshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func newTestGateway(t *testing.T) (*Gateway, chan datatype.Event) {
	t.Helper()
	store := transferstore.NewStore(t.TempDir())
	events := make(chan datatype.Event, 16)
	return New(store, events, "", nil, 4), events
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := StartPayload{PackageID: "pkg", ChunksCount: 3, Checksum: "abc"}
	if err := sendFrame(&buf, SvcStart, want); err != nil {
		t.Fatalf("sendFrame: %v", err)
	}

	svc, data, err := receiveFrame(&buf)
	if err != nil {
		t.Fatalf("receiveFrame: %v", err)
	}
	if svc != SvcStart {
		t.Fatalf("got service %d, want SvcStart", svc)
	}
	var got StartPayload
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestDispatchStartChunkFinish(t *testing.T) {
	gw, events := newTestGateway(t)

	content := []byte("aaaabbbb")
	sum := blake3.Sum256(content)
	checksum := base64.StdEncoding.EncodeToString(sum[:])

	startPayload, _ := mustMarshal(StartPayload{PackageID: "pkg", ChunksCount: 2, Checksum: checksum})
	if _, err := gw.dispatch(SvcStart, startPayload); err != nil {
		t.Fatalf("start: %v", err)
	}

	chunk0, _ := mustMarshal(ChunkPayload{PackageID: "pkg", Index: 0, Bytes: base64.URLEncoding.EncodeToString(content[:4])})
	if _, err := gw.dispatch(SvcChunk, chunk0); err != nil {
		t.Fatalf("chunk 0: %v", err)
	}
	chunk1, _ := mustMarshal(ChunkPayload{PackageID: "pkg", Index: 1, Bytes: base64.URLEncoding.EncodeToString(content[4:])})
	if _, err := gw.dispatch(SvcChunk, chunk1); err != nil {
		t.Fatalf("chunk 1: %v", err)
	}

	finishPayload, _ := mustMarshal(FinishPayload{PackageID: "pkg", Signature: "sig"})
	if _, err := gw.dispatch(SvcFinish, finishPayload); err != nil {
		t.Fatalf("finish: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Kind != datatype.EvDownloadComplete {
			t.Fatalf("got %s, want DownloadComplete", ev.Kind)
		}
	default:
		t.Fatal("expected a DownloadComplete event")
	}
}

func TestDispatchFinishChecksumMismatch(t *testing.T) {
	gw, _ := newTestGateway(t)

	startPayload, _ := mustMarshal(StartPayload{PackageID: "pkg", ChunksCount: 1, Checksum: "wrong"})
	if _, err := gw.dispatch(SvcStart, startPayload); err != nil {
		t.Fatalf("start: %v", err)
	}
	chunk, _ := mustMarshal(ChunkPayload{PackageID: "pkg", Index: 0, Bytes: base64.URLEncoding.EncodeToString([]byte("aaaa"))})
	if _, err := gw.dispatch(SvcChunk, chunk); err != nil {
		t.Fatalf("chunk: %v", err)
	}

	finishPayload, _ := mustMarshal(FinishPayload{PackageID: "pkg"})
	if _, err := gw.dispatch(SvcFinish, finishPayload); err != ErrChecksumMismatch {
		t.Fatalf("got %v, want ErrChecksumMismatch", err)
	}
}

func TestDispatchNotifyEmitsUpdateAvailable(t *testing.T) {
	gw, events := newTestGateway(t)

	payload, _ := mustMarshal(NotifyPayload{Updates: []datatype.PendingUpdateRequest{{RequestId: "u1"}}})
	if _, err := gw.dispatch(SvcNotify, payload); err != nil {
		t.Fatalf("notify: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Kind != datatype.EvUpdateAvailable || ev.UpdateId != "u1" {
			t.Fatalf("got %+v", ev)
		}
	default:
		t.Fatal("expected an UpdateAvailable event")
	}
}

func TestDispatchAbortUnknownPackage(t *testing.T) {
	gw, _ := newTestGateway(t)
	payload, _ := mustMarshal(AbortPayload{PackageID: "missing"})
	if _, err := gw.dispatch(SvcAbort, payload); err == nil {
		t.Fatal("expected an error for an unknown transfer")
	}
}
