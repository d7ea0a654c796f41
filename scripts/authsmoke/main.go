// Command authsmoke exercises the full credential lifecycle against a running
// auth service: register, login, rotate, replay the consumed token, and verify
// that the whole session family is revoked. Exits non-zero on the first
// deviation.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type check struct {
	Name string
	Err  error
}

func main() {
	var (
		base    string
		timeout time.Duration
	)
	flag.StringVar(&base, "base", "http://localhost:8084", "Auth service base URL")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	client := &http.Client{Timeout: timeout}
	email := fmt.Sprintf("smoke-%d@example.com", time.Now().UnixNano())
	password := "smoke-password-123"

	var checks []check
	run := func(name string, fn func() error) {
		err := fn()
		checks = append(checks, check{Name: name, Err: err})
		if err != nil {
			printReport(checks)
			os.Exit(1)
		}
	}

	var pair, rotated tokenPair

	run("register", func() error {
		status, _, err := post(client, base+"/auth/register", map[string]string{
			"email": email, "password": password, "full_name": "Smoke Test",
		})
		if err != nil {
			return err
		}
		if status != http.StatusCreated {
			return fmt.Errorf("expected 201, got %d", status)
		}
		return nil
	})

	run("login", func() error {
		status, data, err := post(client, base+"/auth/login", map[string]string{
			"email": email, "password": password,
		})
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return fmt.Errorf("expected 200, got %d", status)
		}
		return json.Unmarshal(data, &pair)
	})

	run("refresh rotates", func() error {
		status, data, err := post(client, base+"/auth/refresh", map[string]string{
			"refresh_token": pair.RefreshToken,
		})
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return fmt.Errorf("expected 200, got %d", status)
		}
		if err := json.Unmarshal(data, &rotated); err != nil {
			return err
		}
		if rotated.RefreshToken == pair.RefreshToken {
			return fmt.Errorf("refresh token was not rotated")
		}
		return nil
	})

	run("replay rejected", func() error {
		status, _, err := post(client, base+"/auth/refresh", map[string]string{
			"refresh_token": pair.RefreshToken,
		})
		if err != nil {
			return err
		}
		if status != http.StatusUnauthorized {
			return fmt.Errorf("expected 401 for replayed token, got %d", status)
		}
		return nil
	})

	run("family revoked after replay", func() error {
		status, _, err := post(client, base+"/auth/refresh", map[string]string{
			"refresh_token": rotated.RefreshToken,
		})
		if err != nil {
			return err
		}
		if status != http.StatusUnauthorized {
			return fmt.Errorf("expected 401 for sibling token, got %d", status)
		}
		return nil
	})

	run("logout idempotent", func() error {
		for i := 0; i < 2; i++ {
			status, _, err := post(client, base+"/auth/logout", map[string]string{
				"refresh_token": rotated.RefreshToken,
			})
			if err != nil {
				return err
			}
			if status != http.StatusNoContent {
				return fmt.Errorf("expected 204 on logout attempt %d, got %d", i+1, status)
			}
		}
		return nil
	})

	printReport(checks)
}

func post(client *http.Client, url string, payload interface{}) (int, json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	if len(raw) == 0 {
		return resp.StatusCode, nil, nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("non-envelope response from %s: %s", url, raw)
		return resp.StatusCode, nil, nil
	}
	return resp.StatusCode, env.Data, nil
}

func printReport(checks []check) {
	fmt.Println("Auth Smoke Report")
	fmt.Println("=================")
	for _, c := range checks {
		status := "OK"
		if c.Err != nil {
			status = "FAIL"
		}
		fmt.Printf("[%s] %s\n", status, c.Name)
		if c.Err != nil {
			fmt.Printf("  %v\n", c.Err)
		}
	}
}
