package servo_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stan1y/servo_sdk_go/pkg/servo"
	"github.com/stan1y/servo_sdk_go/pkg/servo/mock"
)

func wait(t *testing.T, call *servo.Call) (*servo.Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return call.Wait(ctx)
}

func newSandboxClient(t *testing.T, opts ...mock.Option) *servo.Client {
	t.Helper()
	srv := mock.New(opts...)
	client, err := servo.New("https://h", servo.WithTransport(servo.HandlerTransport(srv)))
	require.NoError(t, err)
	return client
}

func TestPostThenGetText(t *testing.T) {
	client := newSandboxClient(t)
	ctx := context.Background()

	call, err := client.Post(ctx, "bar", &servo.Options{Kind: servo.KindText, Payload: "bar-bar"})
	require.NoError(t, err)
	res, err := wait(t, call)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, res.StatusCode)

	call, err = client.Get(ctx, "bar", &servo.Options{})
	require.NoError(t, err)
	res, err = wait(t, call)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "bar-bar", res.Body)
	assert.Equal(t, "bar-bar", res.Text())
}

func TestJSONRoundTrip(t *testing.T) {
	client := newSandboxClient(t)
	ctx := context.Background()

	value := map[string]any{
		"name":  "servo",
		"count": 3,
		"tags":  []string{"a", "b"},
		"meta":  map[string]any{"ok": true, "none": nil},
	}
	call, err := client.Post(ctx, "doc", servo.JSON(value))
	require.NoError(t, err)
	_, err = wait(t, call)
	require.NoError(t, err)

	call, err = client.Get(ctx, "doc", servo.JSON(nil))
	require.NoError(t, err)
	res, err := wait(t, call)
	require.NoError(t, err)

	want := map[string]any{
		"name":  "servo",
		"count": float64(3),
		"tags":  []any{"a", "b"},
		"meta":  map[string]any{"ok": true, "none": nil},
	}
	if diff := cmp.Diff(want, res.Body); diff != "" {
		t.Fatalf("decoded body mismatch (-want +got):\n%s", diff)
	}

	type doc struct {
		Name  string   `json:"name"`
		Count int      `json:"count"`
		Tags  []string `json:"tags"`
	}
	typed, err := servo.DecodeJSON[doc](res)
	require.NoError(t, err)
	assert.Equal(t, doc{Name: "servo", Count: 3, Tags: []string{"a", "b"}}, typed)
}

func TestPutUpdatesExistingItem(t *testing.T) {
	client := newSandboxClient(t)
	ctx := context.Background()

	call, err := client.PutText(ctx, "k", "v1")
	require.NoError(t, err)
	_, err = wait(t, call)
	var apiErr *servo.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Code)

	call, err = client.PostText(ctx, "k", "v1")
	require.NoError(t, err)
	_, err = wait(t, call)
	require.NoError(t, err)

	call, err = client.PutText(ctx, "k", "v2")
	require.NoError(t, err)
	res, err := wait(t, call)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	call, err = client.Get(ctx, "k", servo.Text(""))
	require.NoError(t, err)
	res, err = wait(t, call)
	require.NoError(t, err)
	assert.Equal(t, "v2", res.Text())
}

func TestDeleteSendsNoBody(t *testing.T) {
	var gotBody []byte
	var gotHeader http.Header
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeader = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client, err := servo.New(ts.URL)
	require.NoError(t, err)
	call, err := client.Delete(context.Background(), "gone")
	require.NoError(t, err)
	res, err := wait(t, call)
	require.NoError(t, err)

	assert.Equal(t, "{}", res.Text())
	assert.Empty(t, gotBody)
	assert.Equal(t, "text/plain", gotHeader.Get("Accept"))
}

func TestTokenLifecycle(t *testing.T) {
	var (
		n    atomic.Int32
		mu   sync.Mutex
		seen []string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := n.Add(1)
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		w.Header().Set("Authorization", "T"+strconv.Itoa(int(i)))
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	client, err := servo.New(ts.URL, servo.WithCredentials("app", "key"))
	require.NoError(t, err)
	assert.Equal(t, servo.AlgHS256, client.Session().AlgMode())

	for i := 0; i < 3; i++ {
		call, err := client.Get(context.Background(), "k", servo.Text(""))
		require.NoError(t, err)
		_, err = wait(t, call)
		require.NoError(t, err)
	}

	mu.Lock()
	assert.Equal(t, []string{"", "T1", "T1"}, seen)
	mu.Unlock()
	assert.Equal(t, "T1", client.Session().Token())
}

func TestNoTokenWithoutCredentials(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		w.Header().Set("Authorization", "T")
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	client, err := servo.New(ts.URL)
	require.NoError(t, err)
	assert.Equal(t, servo.AlgNone, client.Session().AlgMode())
	for i := 0; i < 2; i++ {
		call, err := client.Get(context.Background(), "k", servo.Text(""))
		require.NoError(t, err)
		_, err = wait(t, call)
		require.NoError(t, err)
	}
	mu.Lock()
	assert.Equal(t, []string{"", ""}, seen)
	mu.Unlock()
	assert.Empty(t, client.Session().Token())
}

func TestConcurrentTokenAcquisition(t *testing.T) {
	var (
		n    atomic.Int32
		last atomic.Value
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		last.Store(r.Header.Get("Authorization"))
		w.Header().Set("Authorization", "tok-"+strconv.Itoa(int(n.Add(1))))
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	client, err := servo.New(ts.URL, servo.WithCredentials("app", "key"))
	require.NoError(t, err)

	calls := make([]*servo.Call, 16)
	for i := range calls {
		calls[i], err = client.Get(context.Background(), "k", servo.Text(""))
		require.NoError(t, err)
	}
	for _, call := range calls {
		_, err := wait(t, call)
		require.NoError(t, err)
	}

	tok := client.Session().Token()
	require.NotEmpty(t, tok)
	assert.Regexp(t, `^tok-\d+$`, tok)

	call, err := client.Get(context.Background(), "k", servo.Text(""))
	require.NoError(t, err)
	_, err = wait(t, call)
	require.NoError(t, err)
	assert.Equal(t, tok, last.Load())
	assert.Equal(t, tok, client.Session().Token())
}

func TestEnvelopeFailureIgnoresHTTPStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":500,"message":"boom"}`))
	}))
	defer ts.Close()

	client, err := servo.New(ts.URL)
	require.NoError(t, err)
	call, err := client.Get(context.Background(), "k", servo.JSON(nil))
	require.NoError(t, err)
	res, err := wait(t, call)
	require.Error(t, err)
	assert.Nil(t, res)

	var apiErr *servo.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.Code)
	assert.Equal(t, "boom", apiErr.Message)
	assert.Equal(t, http.StatusOK, apiErr.HTTPStatus)
	assert.ErrorIs(t, err, servo.ErrAPI)
	assert.NotErrorIs(t, err, servo.ErrDecode)
	assert.Equal(t, "servo error code: 500, boom", err.Error())
}

func TestEnvelopeWithSuccessCode(t *testing.T) {
	for _, code := range []int{200, 201} {
		t.Run(strconv.Itoa(code), func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"code":` + strconv.Itoa(code) + `,"message":"fine"}`))
			}))
			defer ts.Close()

			client, err := servo.New(ts.URL)
			require.NoError(t, err)
			call, err := client.Get(context.Background(), "k", servo.JSON(nil))
			require.NoError(t, err)
			res, err := wait(t, call)
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"code": float64(code), "message": "fine"}, res.Body)
		})
	}
}

func TestMalformedJSONIsDecodeError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"broken":`))
	}))
	defer ts.Close()

	client, err := servo.New(ts.URL)
	require.NoError(t, err)
	call, err := client.Get(context.Background(), "k", servo.JSON(nil))
	require.NoError(t, err)
	_, err = wait(t, call)

	var apiErr *servo.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 0, apiErr.Code)
	assert.True(t, apiErr.IsDecodeError())
	assert.Contains(t, apiErr.Message, "invalid json: ")
	assert.ErrorIs(t, err, servo.ErrDecode)
}

func TestTextKindSniffsJSONEnvelope(t *testing.T) {
	client := newSandboxClient(t)
	call, err := client.Get(context.Background(), "missing", servo.Text(""))
	require.NoError(t, err)
	_, err = wait(t, call)

	var apiErr *servo.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Code)
	assert.Equal(t, http.StatusNotFound, apiErr.HTTPStatus)
}

func TestNonEnvelopeErrorStatusIsDelivered(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer ts.Close()

	client, err := servo.New(ts.URL)
	require.NoError(t, err)
	call, err := client.Get(context.Background(), "k", servo.Text(""))
	require.NoError(t, err)
	res, err := wait(t, call)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	assert.Equal(t, "upstream unavailable\n", res.Text())
}

func TestSynchronousValidation(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer ts.Close()

	client, err := servo.New(ts.URL)
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() (*servo.Call, error)
		want error
	}{
		{"get nil options", func() (*servo.Call, error) { return client.Get(ctx, "k", nil) }, servo.ErrInvalidArguments},
		{"post nil options", func() (*servo.Call, error) { return client.Post(ctx, "k", nil) }, servo.ErrInvalidArguments},
		{"put nil payload", func() (*servo.Call, error) { return client.Put(ctx, "k", &servo.Options{}) }, servo.ErrInvalidArguments},
		{"empty key", func() (*servo.Call, error) { return client.Get(ctx, "", servo.Text("")) }, servo.ErrInvalidArguments},
		{"text payload not a string", func() (*servo.Call, error) { return client.Post(ctx, "k", &servo.Options{Payload: 42}) }, servo.ErrInvalidArguments},
		{"unknown kind", func() (*servo.Call, error) { return client.Get(ctx, "k", &servo.Options{Kind: "xml"}) }, servo.ErrUnsupportedPayloadKind},
		{"put file", func() (*servo.Call, error) { return client.Put(ctx, "k", servo.File("/tmp/x")) }, servo.ErrUnsupportedPayloadKind},
		{"get file", func() (*servo.Call, error) { return client.Get(ctx, "k", servo.File("")) }, servo.ErrUnsupportedPayloadKind},
		{"missing upload", func() (*servo.Call, error) { return client.Upload(ctx, "k", filepath.Join(t.TempDir(), "nope")) }, servo.ErrInvalidArguments},
		{"unencodable json", func() (*servo.Call, error) { return client.Post(ctx, "k", servo.JSON(make(chan int))) }, servo.ErrInvalidArguments},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, err := tt.run()
			assert.Nil(t, call)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, hits.Load())
}

func TestMissingBaseURL(t *testing.T) {
	client, err := servo.New("")
	require.NoError(t, err)
	_, err = client.Get(context.Background(), "k", servo.Text(""))
	assert.ErrorIs(t, err, servo.ErrInvalidArguments)

	client.SetURL("https://h/")
	assert.Equal(t, "https://h", client.Session().BaseURL())

	_, err = servo.New("::not a url")
	assert.ErrorIs(t, err, servo.ErrInvalidArguments)
}

func TestUpload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, os.WriteFile(path, []byte("file contents"), 0o644))

	var (
		gotName   string
		gotData   []byte
		gotAccept string
		gotMethod string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAccept = r.Header.Get("Accept")
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		gotName = hdr.Filename
		gotData, _ = io.ReadAll(f)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("stored"))
	}))
	defer ts.Close()

	client, err := servo.New(ts.URL)
	require.NoError(t, err)
	call, err := client.Upload(context.Background(), "report", path)
	require.NoError(t, err)
	res, err := wait(t, call)
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, "stored", res.Body)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "multipart/form-data", gotAccept)
	assert.Equal(t, "report.txt", gotName)
	assert.Equal(t, "file contents", string(gotData))
}

func TestUploadToSandbox(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob.bin")
	require.NoError(t, os.WriteFile(path, []byte{0, 1, 2, 3}, 0o644))

	client := newSandboxClient(t)
	call, err := client.Upload(context.Background(), "blob", path)
	require.NoError(t, err)
	_, err = wait(t, call)
	require.NoError(t, err)

	call, err = client.Get(context.Background(), "blob", servo.Text(""))
	require.NoError(t, err)
	res, err := wait(t, call)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3}, res.Raw)
}

func TestTransportError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	client, err := servo.New(url)
	require.NoError(t, err)
	call, err := client.Get(context.Background(), "k", servo.Text(""))
	require.NoError(t, err)
	res, err := wait(t, call)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, servo.ErrTransport)
	assert.NotErrorIs(t, err, servo.ErrAPI)

	var te *servo.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.MethodGet, te.Method)
	assert.Equal(t, url+"/k", te.URL)
}

func TestCanceledContext(t *testing.T) {
	client := newSandboxClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	call, err := client.Get(ctx, "k", servo.Text(""))
	require.NoError(t, err)
	_, err = wait(t, call)
	assert.ErrorIs(t, err, servo.ErrTransport)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCallResolvesOnce(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte("late"))
	}))
	defer ts.Close()

	client, err := servo.New(ts.URL)
	require.NoError(t, err)
	call, err := client.Get(context.Background(), "k", servo.Text(""))
	require.NoError(t, err)

	_, ok, _ := call.Result()
	assert.False(t, ok)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = call.Wait(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got := make(chan string, 2)
	call.Then(func(r *servo.Result) { got <- r.Text() }, func(err error) { got <- "error" })
	close(release)

	select {
	case v := <-got:
		assert.Equal(t, "late", v)
	case <-time.After(5 * time.Second):
		t.Fatal("continuation not invoked")
	}
	<-call.Done()
	res, ok, err := call.Result()
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, "late", res.Text())
	assert.Empty(t, got)
}

func TestSandboxSessionTokens(t *testing.T) {
	client := newSandboxClient(t, mock.WithSecret([]byte("s3cret")))
	client.SetCredentials("app", "key", "")
	ctx := context.Background()

	call, err := client.PostText(ctx, "mine", "v")
	require.NoError(t, err)
	_, err = wait(t, call)
	require.NoError(t, err)
	require.NotEmpty(t, client.Session().Token())

	claims, err := client.Session().TokenClaims()
	require.NoError(t, err)
	sub, err := claims.GetSubject()
	require.NoError(t, err)
	assert.NotEmpty(t, sub)
	_, ok := client.Session().TokenExpiry()
	assert.True(t, ok)

	call, err = client.Get(ctx, "mine", servo.Text(""))
	require.NoError(t, err)
	res, err := wait(t, call)
	require.NoError(t, err)
	assert.Equal(t, "v", res.Text())
}

func TestRetryPolicy(t *testing.T) {
	var n atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	plain, err := servo.New(ts.URL)
	require.NoError(t, err)
	call, err := plain.Get(context.Background(), "k", servo.Text(""))
	require.NoError(t, err)
	res, err := wait(t, call)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)

	n.Store(0)
	retrying, err := servo.New(ts.URL, servo.WithRetryPolicy(servo.RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}))
	require.NoError(t, err)
	call, err = retrying.Get(context.Background(), "k", servo.Text(""))
	require.NoError(t, err)
	res, err = wait(t, call)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, int32(3), n.Load())
}

func TestAPIErrorIsNotTransport(t *testing.T) {
	err := error(&servo.APIError{Code: 403, Message: "Request is too large"})
	assert.True(t, errors.Is(err, servo.ErrAPI))
	assert.False(t, errors.Is(err, servo.ErrTransport))
}
