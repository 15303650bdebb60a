package uplink

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/overwasher/sensor-node/internal/flash"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testClock = Clock{
	Boot: time.Unix(1700000000, 0),
	Now:  func() time.Time { return time.Unix(1700000000, 0).Add(1500 * time.Microsecond) },
}

// wrappedRegion 4096 字节区域，[3072, 4096) 为 'a'，[0, 1024) 为 'b'
func wrappedRegion(t *testing.T) flash.View {
	t.Helper()
	m := flash.NewMemoryFlash(4096, 1024)
	a := make([]byte, 1024)
	b := make([]byte, 1024)
	for i := range a {
		a[i] = 'a'
		b[i] = 'b'
	}
	_, err := m.WriteAt(a, 3072)
	require.NoError(t, err)
	_, err = m.WriteAt(b, 0)
	require.NoError(t, err)
	return flash.NewView(m)
}

func TestHeader_Layout(t *testing.T) {
	hdr := testClock.NewHeader()
	p, err := hdr.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, p, HeaderSize)

	assert.Equal(t, []byte{0x4f, 0x57, 0x54, 0x4c}, p[0:4])
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(p[4:]))
	assert.Equal(t, uint32(1500), binary.LittleEndian.Uint32(p[8:]))
	assert.Equal(t, uint64(1700000000001500), binary.LittleEndian.Uint64(p[12:]))
	assert.Equal(t, uint32(1690), binary.LittleEndian.Uint32(p[20:]))
	assert.Equal(t, uint32(17), binary.LittleEndian.Uint32(p[24:]))

	var back Header
	require.NoError(t, back.UnmarshalBinary(p))
	assert.Equal(t, hdr, back)

	p[0] = 0
	assert.Error(t, back.UnmarshalBinary(p))
}

func TestBuildParcel_Wraparound(t *testing.T) {
	view := wrappedRegion(t)

	parcel, err := BuildParcel(view, 4096, 3072, 1024, testClock.NewHeader())
	require.NoError(t, err)
	require.Len(t, parcel, HeaderSize+2048)
	body := parcel[HeaderSize:]
	assert.Equal(t, byte('a'), body[0])
	assert.Equal(t, byte('a'), body[1023])
	assert.Equal(t, byte('b'), body[1024])
	assert.Equal(t, byte('b'), body[2047])

	parcel, err = BuildParcel(view, 4096, 0, 1024, testClock.NewHeader())
	require.NoError(t, err)
	assert.Len(t, parcel, HeaderSize+1024)

	_, err = BuildParcel(view, 8192, 0, 1024, testClock.NewHeader())
	assert.Error(t, err)
	_, err = BuildParcel(view, 4096, 0, 4096, testClock.NewHeader())
	assert.Error(t, err)
}

type recordedRequest struct {
	path        string
	contentType string
	auth        string
	requestID   string
	firmware    string
	body        []byte
}

func collector(t *testing.T, status int) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var got []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, recordedRequest{
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			auth:        r.Header.Get("Authorization"),
			requestID:   r.Header.Get("X-Request-ID"),
			firmware:    r.Header.Get("X-Firmware-Version"),
			body:        body,
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), got...)
	}
}

func TestHTTPUplink_SendStatus(t *testing.T) {
	srv, requests := collector(t, http.StatusOK)
	u := NewHTTPUplink(HTTPConfig{
		BaseURL:         srv.URL + "/",
		AuthToken:       "secret",
		FirmwareVersion: "1.2.3",
		Timeout:         time.Second,
	}, testClock, zap.NewNop())

	require.NoError(t, u.SendStatus(context.Background(), true))
	require.NoError(t, u.SendStatus(context.Background(), false))

	reqs := requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/sensor/v1/update", reqs[0].path)
	assert.Equal(t, "secret", reqs[0].auth)
	assert.Equal(t, "1.2.3", reqs[0].firmware)
	assert.Contains(t, reqs[0].contentType, "application/json")
	assert.NotEmpty(t, reqs[0].requestID)
	assert.NotEqual(t, reqs[0].requestID, reqs[1].requestID)
	assert.JSONEq(t, `{"state":"active"}`, string(reqs[0].body))
	assert.JSONEq(t, `{"state":"inactive"}`, string(reqs[1].body))
}

func TestHTTPUplink_SendTelemetry(t *testing.T) {
	srv, requests := collector(t, http.StatusOK)
	u := NewHTTPUplink(HTTPConfig{BaseURL: srv.URL, Timeout: time.Second}, testClock, zap.NewNop())

	require.NoError(t, u.SendTelemetry(context.Background(), wrappedRegion(t), 4096, 3072, 1024))

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/sensor/v1/telemetry", reqs[0].path)
	assert.Equal(t, "application/octet-stream", reqs[0].contentType)
	require.Len(t, reqs[0].body, HeaderSize+2048)

	var hdr Header
	require.NoError(t, hdr.UnmarshalBinary(reqs[0].body))
	assert.Equal(t, ParcelVersion, hdr.Version)
}

func TestHTTPUplink_RejectedIsError(t *testing.T) {
	srv, _ := collector(t, http.StatusUnauthorized)
	u := NewHTTPUplink(HTTPConfig{BaseURL: srv.URL, Timeout: time.Second}, testClock, zap.NewNop())

	assert.Error(t, u.SendStatus(context.Background(), true))
	assert.Error(t, u.SendTelemetry(context.Background(), wrappedRegion(t), 4096, 0, 1024))
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	msgs []published
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	p.msgs = append(p.msgs, published{topic, qos, retained, payload})
	return nil
}

func TestMQTTUplink_Topics(t *testing.T) {
	pub := &fakePublisher{}
	u := NewMQTTUplink(pub, "sensor", "washer-1", 1, testClock, zap.NewNop())

	require.NoError(t, u.SendStatus(context.Background(), true))
	require.NoError(t, u.SendTelemetry(context.Background(), wrappedRegion(t), 4096, 3072, 1024))

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "sensor/washer-1/status", pub.msgs[0].topic)
	assert.True(t, pub.msgs[0].retained)
	assert.JSONEq(t, `{"state":"active"}`, string(pub.msgs[0].payload))

	assert.Equal(t, "sensor/washer-1/telemetry", pub.msgs[1].topic)
	assert.Equal(t, byte(1), pub.msgs[1].qos)
	assert.False(t, pub.msgs[1].retained)
	assert.Len(t, pub.msgs[1].payload, HeaderSize+2048)
}

func TestStreamUplink_AppendsMessages(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	u := NewStreamUplink(client, StreamConfig{
		NodeID:          "washer-1",
		StatusStream:    "sensor:status:stream",
		TelemetryStream: "sensor:telemetry:stream",
		MaxLen:          100,
	}, testClock, zap.NewNop())

	ctx := context.Background()
	require.NoError(t, u.SendStatus(ctx, false))
	require.NoError(t, u.SendTelemetry(ctx, wrappedRegion(t), 4096, 3072, 1024))

	statuses, err := client.XRange(ctx, "sensor:status:stream", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "washer-1", statuses[0].Values["node_id"])
	var doc StatusDocument
	require.NoError(t, json.Unmarshal([]byte(statuses[0].Values["data"].(string)), &doc))
	assert.Equal(t, "inactive", doc.State)

	parcels, err := client.XRange(ctx, "sensor:telemetry:stream", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, parcels, 1)
	assert.Len(t, parcels[0].Values["parcel"].(string), HeaderSize+2048)
	assert.Equal(t, "2048", parcels[0].Values["bytes"])
}
