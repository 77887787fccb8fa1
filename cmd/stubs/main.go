// Stub vision-API server for local testing. Speaks just enough of the
// provider's chat-completions wire format for the analysis core to run
// end to end without credentials.
package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/elitetradingcoach/chart-analysis/internal/stubs"
)

func main() {
	addr := flag.String("addr", ":8092", "listen address")
	flag.Parse()

	stub := stubs.NewVisionServer()
	mux := http.NewServeMux()
	mux.Handle("/v1/chat/completions", stub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	log.Printf("stub vision server listening on %s", *addr)
	log.Fatal(http.ListenAndServe(*addr, mux))
}
