package scorer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientVerify(t *testing.T) {
	var gotPath, gotUser, gotPass string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"Done","message_code":1,"success":true,"result":true,"confidence":95,"status":200,"action":"verify"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", map[string]string{"key-a": "secret-a"}, WithQuality(3))
	reply, err := client.Verify(context.Background(), "key-a", "42", []string{"tp1", "tp2"})
	require.NoError(t, err)

	assert.Equal(t, "/verify/42", gotPath)
	assert.Equal(t, "key-a", gotUser)
	assert.Equal(t, "secret-a", gotPass)
	assert.Equal(t, "tp1,tp2", gotBody["tp"])
	assert.EqualValues(t, 3, gotBody["quality"])
	assert.True(t, reply.Result)
	assert.Equal(t, 95, reply.Confidence)
	assert.Equal(t, "verify", reply.Action)
}

func TestClientAuto(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"status":200,"message":"Done","message_code":10,"action":"enroll","enrollment":true,"result":false,"high_confidence":false}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, map[string]string{"key-a": "secret-a"})
	reply, err := client.Auto(context.Background(), "key-a", "fp/with slash", []string{"tp"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "/auto/fp%2Fwith%20slash", gotPath)
	assert.Equal(t, "tp", gotBody["tp"])
	assert.NotContains(t, gotBody, "custom_field")
	assert.Equal(t, "enroll", reply.Action)
	assert.True(t, reply.Enrollment)
}

func TestClientErrors(t *testing.T) {
	t.Run("error payload on non-2xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"name":"InvalidTypingPattern","message":"bad pattern","message_code":33,"status":400}`))
		}))
		defer srv.Close()

		_, err := NewClient(srv.URL, map[string]string{"k": "s"}).Verify(context.Background(), "k", "1", []string{"tp"})
		var se *Error
		require.ErrorAs(t, err, &se)
		assert.Equal(t, ErrorRejected, se.Category)
		require.NotNil(t, se.Reply)
		assert.Equal(t, "InvalidTypingPattern", se.Reply.Name)
		assert.Equal(t, 33, se.Reply.MessageCode)
		assert.False(t, se.Transient())
	})

	t.Run("unparseable error body keeps status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`<html>bad gateway</html>`))
		}))
		defer srv.Close()

		_, err := NewClient(srv.URL, map[string]string{"k": "s"}).Verify(context.Background(), "k", "1", nil)
		var se *Error
		require.ErrorAs(t, err, &se)
		assert.Equal(t, ErrorOutage, se.Category)
		assert.Equal(t, http.StatusBadGateway, se.Reply.Status)
		assert.True(t, se.Transient())
	})

	t.Run("authentication failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"name":"Unauthorized","message":"bad key","message_code":0,"status":401}`))
		}))
		defer srv.Close()

		_, err := NewClient(srv.URL, map[string]string{"k": "s"}).Verify(context.Background(), "k", "1", nil)
		assert.Equal(t, ErrorAuthentication, GetCategory(err))
	})

	t.Run("malformed success body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{not json`))
		}))
		defer srv.Close()

		_, err := NewClient(srv.URL, map[string]string{"k": "s"}).Verify(context.Background(), "k", "1", nil)
		assert.Equal(t, ErrorBadData, GetCategory(err))
	})

	t.Run("per-call timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		client := NewClient(srv.URL, map[string]string{"k": "s"}, WithTimeout(20*time.Millisecond))
		_, err := client.Verify(context.Background(), "k", "1", nil)
		assert.Equal(t, ErrorTimeout, GetCategory(err))
	})

	t.Run("unknown scorer key never reaches the network", func(t *testing.T) {
		called := false
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
		defer srv.Close()

		client := NewClient(srv.URL, map[string]string{"k": "s"})
		assert.False(t, client.HasKey("other"))
		_, err := client.Verify(context.Background(), "other", "1", nil)
		assert.ErrorIs(t, err, ErrUnknownKey)
		assert.Equal(t, ErrorUnknownKey, GetCategory(err))
		assert.False(t, called)
	})

	t.Run("unreachable scorer", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		url := srv.URL
		srv.Close()

		_, err := NewClient(url, map[string]string{"k": "s"}).Verify(context.Background(), "k", "1", nil)
		assert.Equal(t, ErrorOutage, GetCategory(err))
	})
}
