package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/cnpj/v1/11222333000181":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"cnpj":"11222333000181","razao_social":"EMPRESA TESTE LTDA","nome_fantasia":"TESTE","municipio":"SAO PAULO","uf":"SP"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"CNPJ não encontrado"}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, zerolog.Nop())

	name, err := c.Lookup(context.Background(), "11222333000181")
	require.NoError(t, err)
	assert.Equal(t, "EMPRESA TESTE LTDA", name)

	company, err := c.Company(context.Background(), "11222333000181")
	require.NoError(t, err)
	assert.Equal(t, "SP", company.State)

	_, err = c.Lookup(context.Background(), "11444777000161")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookupRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"razao_social":"","nome_fantasia":"PADARIA BOM PAO"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, zerolog.Nop())

	name, err := c.Lookup(context.Background(), "11222333000181")
	require.NoError(t, err)
	assert.Equal(t, "PADARIA BOM PAO", name)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}
