package signaling_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Nitishvarma50/app-p2p/internal/signaling"
)

func TestFetchICEConfiguration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"iceServers":[
			{"urls":"stun:stun.l.google.com:19302"},
			{"urls":["turn:turn.example:3478?transport=udp","turn:turn.example:3478?transport=tcp"],"username":"u","credential":"p"}
		]}`))
	}))
	defer srv.Close()

	servers := signaling.FetchICEConfiguration(context.Background(), srv.URL+"/config")
	if len(servers) != 2 {
		t.Fatalf("got %d servers", len(servers))
	}
	if len(servers[0].URLs) != 1 || servers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Fatalf("string urls not normalised: %+v", servers[0])
	}
	if len(servers[1].URLs) != 2 || servers[1].Username != "u" || servers[1].Credential != "p" {
		t.Fatalf("unexpected turn entry: %+v", servers[1])
	}
}

func TestFetchICEConfigurationDegradesToEmpty(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"bad json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"iceServers":`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			if got := signaling.FetchICEConfiguration(context.Background(), srv.URL); len(got) != 0 {
				t.Fatalf("expected empty list, got %+v", got)
			}
		})
	}

	if got := signaling.FetchICEConfiguration(context.Background(), "http://127.0.0.1:1/config"); len(got) != 0 {
		t.Fatalf("unreachable relay should give an empty list, got %+v", got)
	}
}
