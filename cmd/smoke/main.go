package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"
)

// Smoke test against a running API instance: register, log in, read billing
// info and verify the trial balance. Run with NAMEGEN_API_URL pointing at the
// instance under test.
func main() {
	base := os.Getenv("NAMEGEN_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	client := &http.Client{Timeout: 10 * time.Second}
	email := fmt.Sprintf("smoke-%d@example.com", rand.Int())

	var acc struct {
		ID      string `json:"id"`
		Credits int64  `json:"credits"`
		Plan    string `json:"plan"`
	}
	post(client, base+"/v1/auth/register", "", map[string]string{
		"email":    email,
		"name":     "Smoke Test",
		"password": "smoke-password",
	}, http.StatusCreated, &acc)
	if acc.Credits != 3 || acc.Plan != "FREE" {
		log.Fatalf("unexpected trial provisioning: credits=%d plan=%s", acc.Credits, acc.Plan)
	}

	var tok struct {
		Token string `json:"token"`
	}
	post(client, base+"/v1/auth/token", "", map[string]string{
		"email":    email,
		"password": "smoke-password",
	}, http.StatusOK, &tok)
	if tok.Token == "" {
		log.Fatal("empty token")
	}

	var info struct {
		Credits int64  `json:"credits"`
		Plan    string `json:"plan"`
		Usage   struct {
			Used  int `json:"used"`
			Limit int `json:"limit"`
		} `json:"usage"`
	}
	get(client, base+"/v1/user/billing-info", tok.Token, &info)
	if info.Credits != 3 || info.Usage.Limit != 3 || info.Usage.Used != 0 {
		log.Fatalf("unexpected billing info: %+v", info)
	}

	fmt.Printf("smoke test passed: account=%s\n", acc.ID)
}

func post(client *http.Client, url, token string, body any, wantStatus int, dst any) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("marshal %s: %v", url, err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("request %s: %v", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	do(client, req, wantStatus, dst)
}

func get(client *http.Client, url, token string, dst any) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		log.Fatalf("request %s: %v", url, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	do(client, req, http.StatusOK, dst)
}

func do(client *http.Client, req *http.Request, wantStatus int, dst any) {
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		log.Fatalf("%s %s: expected %d, got %d", req.Method, req.URL, wantStatus, resp.StatusCode)
	}
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			log.Fatalf("decode %s: %v", req.URL, err)
		}
	}
}
