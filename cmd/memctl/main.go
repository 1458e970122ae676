// memctl is a lean operator CLI for a running memoryd daemon: add a
// message, pull retrieve_memory/recent_memory/context_pre_retrieve output,
// or check health, all as direct HTTP calls against the daemon's own API.
// Flat-flags-plus-log.Fatalf style follows cmd/embedctl.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

func main() {
	log.SetFlags(0)
	var (
		addr           = flag.String("addr", envOr("MEMCTL_ADDR", "http://localhost:8090"), "memoryd HTTP API base URL")
		op             = flag.String("op", "", "operation: add-message|retrieve|recent|context|health")
		conversationID = flag.String("conversation", "", "conversation ID")
		role           = flag.String("role", "user", "message role (add-message)")
		content        = flag.String("content", "", "message content (add-message), read from STDIN if -stdin is set")
		stdin          = flag.Bool("stdin", false, "read message content from STDIN (add-message)")
		query          = flag.String("query", "", "query text (retrieve, context)")
		episodicLimit  = flag.Int("episodic-limit", 5, "episodic result limit (retrieve)")
		semanticLimit  = flag.Int("semantic-limit", 5, "semantic result limit (retrieve, context)")
		detail         = flag.String("detail", "auto", "detail level: auto|none|low|high (retrieve)")
		daysLimit      = flag.Int("days-limit", 0, "bound recent results to the last N days, 0 means unbounded (recent)")
		limit          = flag.Int("limit", 20, "result limit, capped at 100 (recent)")
		raw            = flag.Bool("raw", false, "request the JSON form instead of markdown (retrieve, recent)")
	)
	flag.Parse()

	client := &http.Client{Timeout: 30 * time.Second}

	switch *op {
	case "add-message":
		runAddMessage(client, *addr, *conversationID, *role, *content, *stdin)
	case "retrieve":
		runRetrieve(client, *addr, *conversationID, *query, *episodicLimit, *semanticLimit, *detail, *raw)
	case "recent":
		runRecent(client, *addr, *conversationID, *daysLimit, *limit, *raw)
	case "context":
		runContext(client, *addr, *conversationID, *query, *semanticLimit)
	case "health":
		runHealth(client, *addr)
	default:
		log.Fatalf("unknown -op %q; want add-message|retrieve|recent|context|health", *op)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireConversation(conversationID string) {
	if conversationID == "" {
		log.Fatal("-conversation is required")
	}
}

func runAddMessage(client *http.Client, addr, conversationID, role, content string, fromStdin bool) {
	requireConversation(conversationID)
	if fromStdin {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			log.Fatalf("read stdin: %v", err)
		}
		content = string(b)
	}
	if content == "" {
		log.Fatal("-content (or -stdin) is required")
	}

	body, _ := json.Marshal(map[string]string{"role": role, "content": content})
	u := fmt.Sprintf("%s/api/v1/memory/%s/messages", addr, url.PathEscape(conversationID))
	doJSON(client, http.MethodPost, u, body)
}

func runRetrieve(client *http.Client, addr, conversationID, query string, episodicLimit, semanticLimit int, detail string, raw bool) {
	requireConversation(conversationID)
	q := url.Values{
		"q":              {query},
		"episodic_limit": {strconv.Itoa(episodicLimit)},
		"semantic_limit": {strconv.Itoa(semanticLimit)},
	}
	path := fmt.Sprintf("/api/v1/memory/%s/retrieve", url.PathEscape(conversationID))
	if raw {
		path += "/raw"
	} else {
		q.Set("detail", detail)
	}
	doJSON(client, http.MethodGet, addr+path+"?"+q.Encode(), nil)
}

func runRecent(client *http.Client, addr, conversationID string, daysLimit, limit int, raw bool) {
	requireConversation(conversationID)
	q := url.Values{
		"days_limit": {strconv.Itoa(daysLimit)},
		"limit":      {strconv.Itoa(limit)},
	}
	path := fmt.Sprintf("/api/v1/memory/%s/recent", url.PathEscape(conversationID))
	if raw {
		path += "/raw"
	}
	doJSON(client, http.MethodGet, addr+path+"?"+q.Encode(), nil)
}

func runContext(client *http.Client, addr, conversationID, query string, semanticLimit int) {
	requireConversation(conversationID)
	q := url.Values{"q": {query}, "semantic_limit": {strconv.Itoa(semanticLimit)}}
	path := fmt.Sprintf("/api/v1/memory/%s/context", url.PathEscape(conversationID))
	doJSON(client, http.MethodGet, addr+path+"?"+q.Encode(), nil)
}

func runHealth(client *http.Client, addr string) {
	doJSON(client, http.MethodGet, addr+"/healthz", nil)
}

func doJSON(client *http.Client, method, fullURL string, body []byte) {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, fullURL, reqBody)
	if err != nil {
		log.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("read response: %v", err)
	}
	if resp.StatusCode/100 != 2 {
		log.Fatalf("memoryd returned %s: %s", resp.Status, string(out))
	}
	os.Stdout.Write(out)
	if len(out) == 0 || out[len(out)-1] != '\n' {
		fmt.Println()
	}
}
