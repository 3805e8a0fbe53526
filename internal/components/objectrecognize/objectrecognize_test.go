package objectrecognize

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/appbuilder/internal/appbuilder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecognizer(t *testing.T, handler http.HandlerFunc) *Recognizer {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	client := appbuilder.NewClient(ts.URL, "token", 5*time.Second)
	return New(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

const appleBody = `{"log_id":1780739923456789,"result_num":3,"result":[
	{"keyword":"苹果","score":0.94553,"root":"植物-蔷薇科"},
	{"keyword":"姬娜果","score":0.730442,"root":"植物-其它"},
	{"keyword":"红富士","score":0.305194,"root":"植物-其它"}]}`

func TestRecognize_URL(t *testing.T) {
	r := newTestRecognizer(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, appbuilder.CloudHubPrefix+Path, req.URL.Path)
		assert.NoError(t, req.ParseForm())
		assert.Equal(t, "https://img.example.com/apple.jpg", req.PostForm.Get("url"))
		assert.Empty(t, req.PostForm.Get("image"))
		w.Header().Set(appbuilder.RequestIDHeader, "req-1")
		io.WriteString(w, appleBody)
	})

	resp, err := r.Recognize(context.Background(), Request{URL: "https://img.example.com/apple.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, "1780739923456789", resp.LogID.String())
	assert.Equal(t, 3, resp.ResultNum)
	require.Len(t, resp.Result, 3)
	assert.Equal(t, "苹果", resp.Result[0].Keyword)
}

func TestRecognize_RawImageIsBase64(t *testing.T) {
	raw := []byte{0xff, 0xd8, 0xff, 0xe0}
	r := newTestRecognizer(t, func(w http.ResponseWriter, req *http.Request) {
		assert.NoError(t, req.ParseForm())
		assert.Equal(t, base64.StdEncoding.EncodeToString(raw), req.PostForm.Get("image"))
		io.WriteString(w, appleBody)
	})

	_, err := r.Recognize(context.Background(), Request{Image: raw})
	require.NoError(t, err)
}

func TestRecognize_ServiceError(t *testing.T) {
	r := newTestRecognizer(t, func(w http.ResponseWriter, req *http.Request) {
		io.WriteString(w, `{"error_code":216201,"error_msg":"image format error"}`)
	})

	_, err := r.Recognize(context.Background(), Request{URL: "https://img.example.com/x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrService)

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "216201", svcErr.Code)
	assert.Equal(t, "image format error", svcErr.Message)
}

func TestRecognize_MalformedBody(t *testing.T) {
	r := newTestRecognizer(t, func(w http.ResponseWriter, req *http.Request) {
		io.WriteString(w, `not json`)
	})

	_, err := r.Recognize(context.Background(), Request{URL: "https://img.example.com/x"})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestRecognize_TransportError(t *testing.T) {
	r := newTestRecognizer(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := r.Recognize(context.Background(), Request{URL: "https://img.example.com/x"})
	assert.ErrorIs(t, err, appbuilder.ErrHTTPStatus)
}

func TestRequest_Validate(t *testing.T) {
	assert.ErrorIs(t, Request{}.Validate(), ErrInvalidInput)
	assert.ErrorIs(t, Request{Image: []byte("x"), URL: "u"}.Validate(), ErrInvalidInput)
	assert.NoError(t, Request{URL: "u"}.Validate())
	assert.NoError(t, Request{Image: []byte("x")}.Validate())
}

func TestRecognize_InvalidRequestMakesNoCall(t *testing.T) {
	called := false
	r := newTestRecognizer(t, func(w http.ResponseWriter, req *http.Request) { called = true })

	_, err := r.Recognize(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.False(t, called)
}

func TestToolResults(t *testing.T) {
	items := []Item{
		{Keyword: "苹果", Score: 0.9, Root: "植物"},
		{Keyword: "梨", Score: 0.4, Root: "植物"},
		{Keyword: "桃", Score: 0.6, Root: "植物"},
	}

	got := ToolResults(items, DefaultScoreThreshold)
	require.Len(t, got, 2)
	assert.Equal(t, "苹果", got[0].Keyword)
	assert.Equal(t, "桃", got[1].Keyword)
}

func TestToolResults_KeepsFirstBelowThreshold(t *testing.T) {
	got := ToolResults([]Item{{Keyword: "猫", Score: 0.1}, {Keyword: "狗", Score: 0.2}}, 0.5)
	require.Len(t, got, 1)
	assert.Equal(t, "猫", got[0].Keyword)

	assert.Empty(t, ToolResults(nil, 0.5))
}

func TestResolveURL(t *testing.T) {
	files := map[string]string{"cat.png": "https://files.example.com/cat.png"}

	u, err := ResolveURL("https://direct.example.com/a.png", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://direct.example.com/a.png", u)

	u, err = ResolveURL("", "uploads/cat.png", files)
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/cat.png", u)

	_, err = ResolveURL("", "", files)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ResolveURL("", "dog.png", files)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestManifest(t *testing.T) {
	m := Manifest()
	assert.Equal(t, Name, m.Name)
	assert.Len(t, m.Parameters.AnyOf, 2)
	assert.Contains(t, m.Parameters.Properties, "img_url")
}
