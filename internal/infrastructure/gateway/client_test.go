package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscalhub/internal/domain/fiscal"
)

// rotatingCreds hands out "token-N", bumping N on every Invalidate.
type rotatingCreds struct {
	generation  atomic.Int32
	invalidated atomic.Int32
	fail        error
}

func (c *rotatingCreds) Authorize(_ context.Context, req *http.Request) error {
	if c.fail != nil {
		return c.fail
	}
	req.Header.Set("Authorization", "Bearer token-"+string(rune('0'+c.generation.Load())))
	return nil
}

func (c *rotatingCreds) Invalidate() {
	c.invalidated.Add(1)
	c.generation.Add(1)
}

func TestClient_RetriesOnceAfter401(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"a":1}`, string(body))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "ref-1", r.URL.Query().Get("ref"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	creds := &rotatingCreds{}
	c := NewClient("test", srv.URL+"/", creds, srv.Client())

	resp, err := c.Do(context.Background(), Request{
		Operation: "emit",
		Method:    http.MethodPost,
		Path:      "/v2/nfe",
		Query:     map[string][]string{"ref": {"ref-1"}},
		Body:      []byte(`{"a":1}`),
	})
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, `{"ok":true}`, string(resp.Body))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), creds.invalidated.Load())
}

func TestClient_SecondUnauthorizedIsReturned(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"mensagem":"token inválido"}`))
	}))
	defer srv.Close()

	c := NewClient("test", srv.URL, &rotatingCreds{}, srv.Client())
	resp, err := c.Do(context.Background(), Request{Operation: "status", Method: http.MethodGet, Path: "v2/nfe/x"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load(), "exactly one re-authentication")

	res := Failure(resp, err, nil)
	assert.Equal(t, fiscal.FailureAuth, res.Failure)
	assert.Equal(t, "token inválido", res.ErrorMessage)
	assert.NotEmpty(t, res.RawResponse)
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient("test", srv.URL, &rotatingCreds{}, srv.Client())
	resp, err := c.Do(context.Background(), Request{Operation: "emit", Method: http.MethodGet, Path: "/slow", Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, fiscal.FailureUnreachable, Classify(resp, err))
}

func TestClient_CredentialFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { calls.Add(1) }))
	defer srv.Close()

	c := NewClient("test", srv.URL, &rotatingCreds{fail: errors.New("token endpoint down")}, srv.Client())
	_, err := c.Do(context.Background(), Request{Operation: "emit", Method: http.MethodGet, Path: "/"})
	require.ErrorIs(t, err, ErrCredentials)
	assert.Equal(t, fiscal.FailureAuth, Classify(nil, err))
	assert.Zero(t, calls.Load())
}

func TestClient_AbsolutePath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/arquivos/danfe.pdf", r.URL.Path)
		assert.Equal(t, "application/pdf", r.Header.Get("Accept"))
		_, _ = w.Write([]byte("%PDF"))
	}))
	defer srv.Close()

	c := NewClient("test", "https://api.invalid", BasicToken("t"), srv.Client())
	resp, err := c.Do(context.Background(), Request{Operation: "pdf", Method: http.MethodGet, Path: srv.URL + "/arquivos/danfe.pdf", Accept: "application/pdf"})
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(resp.Body))
}

func TestBasicToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, BasicToken("abc123").Authorize(context.Background(), req))
	user, pass, ok := req.BasicAuth()
	assert.True(t, ok)
	assert.Equal(t, "abc123", user)
	assert.Empty(t, pass)

	assert.Error(t, BasicToken("").Authorize(context.Background(), req))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		status int
		want   fiscal.FailureKind
	}{
		{200, fiscal.FailureNone},
		{201, fiscal.FailureNone},
		{202, fiscal.FailureNone},
		{400, fiscal.FailureRejected},
		{404, fiscal.FailureRejected},
		{422, fiscal.FailureRejected},
		{401, fiscal.FailureAuth},
		{403, fiscal.FailureAuth},
		{408, fiscal.FailureUnreachable},
		{429, fiscal.FailureUnreachable},
		{500, fiscal.FailureUnreachable},
		{502, fiscal.FailureUnreachable},
		{503, fiscal.FailureUnreachable},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(&Response{StatusCode: tc.status}, nil), "status %d", tc.status)
	}
	assert.Equal(t, fiscal.FailureUnreachable, Classify(nil, errors.New("dial tcp: no such host")))
}

func TestFailure_KeepsRawBodyAndMessage(t *testing.T) {
	body := []byte(`{"codigo":"erro_validacao_schema","mensagem":"Erro de validação","erros":[{"codigo":"x","mensagem":"obrigatório","campo":"cnpj_emitente"}]}`)
	res := Failure(&Response{StatusCode: 422, Body: body}, nil, nil)

	assert.False(t, res.Success)
	assert.Equal(t, fiscal.FailureRejected, res.Failure)
	assert.Equal(t, "Erro de validação; cnpj_emitente: obrigatório", res.ErrorMessage)
	assert.Equal(t, body, res.RawResponse)

	res = Failure(&Response{StatusCode: 503, Body: []byte("<html>bad gateway</html>")}, nil, nil)
	assert.Equal(t, fiscal.FailureUnreachable, res.Failure)
	assert.Equal(t, "503 Service Unavailable", res.ErrorMessage)
	assert.Equal(t, "<html>bad gateway</html>", string(res.RawResponse))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "invalid client", ErrorMessage([]byte(`{"error":{"message":"invalid client"}}`)))
	assert.Equal(t, "invalid_token", ErrorMessage([]byte(`{"error":"invalid_token"}`)))
	assert.Equal(t, "boom", ErrorMessage([]byte(`{"message":"boom"}`)))
	assert.Empty(t, ErrorMessage([]byte(`not json`)))
}

func TestStatusNormalizer(t *testing.T) {
	n := NewStatusNormalizer(map[fiscal.Status][]string{
		fiscal.StatusAuthorized: {"autorizado", "Autorizada", "CONCLUIDO"},
		fiscal.StatusRejected:   {"erro_autorizacao", "denegado"},
	})

	for _, w := range []string{"autorizado", " AUTORIZADO ", "autorizada", "concluido", "authorized"} {
		s, ok := n.Normalize(w)
		assert.True(t, ok, w)
		assert.Equal(t, fiscal.StatusAuthorized, s, w)

		again, ok := n.Normalize(string(s))
		assert.True(t, ok)
		assert.Equal(t, s, again, "normalizing a normalized status is stable")
	}

	s, ok := n.Normalize("denegado")
	assert.True(t, ok)
	assert.Equal(t, fiscal.StatusRejected, s)

	_, ok = n.Normalize("desconhecido")
	assert.False(t, ok)
}
