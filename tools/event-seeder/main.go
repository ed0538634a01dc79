// event-seeder generates fake CRM webhook deliveries and posts them to a
// running receiver with a valid HMAC signature. Useful for load testing and
// for exercising the dedupe and conflict paths locally.
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

type envelope struct {
	Data      []map[string]any `json:"data"`
	Operation string           `json:"operation"`
	User      map[string]any   `json:"user"`
	Timestamp int64            `json:"timestamp"`
}

func main() {
	target := flag.String("target", "http://localhost:8080/webhooks/seeder", "receiver webhook URL")
	secret := flag.String("secret", "", "shared HMAC secret")
	count := flag.Int("count", 100, "number of deliveries to send")
	batch := flag.Int("batch", 1, "entities per delivery")
	duplicates := flag.Float64("duplicates", 0.1, "fraction of deliveries re-sent verbatim")
	stale := flag.Float64("stale", 0.05, "fraction of deliveries with a backdated timestamp")
	seed := flag.Int64("seed", 0, "random seed (0 uses current time)")
	flag.Parse()

	if *secret == "" {
		log.Fatal("missing -secret")
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	gofakeit.Seed(*seed)
	rng := rand.New(rand.NewSource(*seed))

	client := &http.Client{Timeout: 10 * time.Second}

	sent, dups := 0, 0
	var lastBody []byte
	for i := 0; i < *count; i++ {
		var body []byte
		if lastBody != nil && rng.Float64() < *duplicates {
			body = lastBody
			dups++
		} else {
			env := generateEnvelope(rng, *batch, rng.Float64() < *stale)
			var err error
			body, err = json.Marshal(env)
			if err != nil {
				log.Fatalf("marshal envelope: %v", err)
			}
			lastBody = body
		}

		if err := send(client, *target, *secret, body); err != nil {
			log.Fatalf("delivery %d failed: %v", i+1, err)
		}
		sent++
	}

	fmt.Printf("Sent %d deliveries (%d duplicates) to %s\n", sent, dups, *target)
}

func generateEnvelope(rng *rand.Rand, batch int, stale bool) envelope {
	entity := []string{"candidate", "contact", "job_order"}[rng.Intn(3)]
	opSuffix := []string{"Created", "Updated", "Deleted"}[rng.Intn(3)]

	ts := time.Now()
	if stale {
		ts = ts.Add(-time.Duration(1+rng.Intn(48)) * time.Hour)
	}

	data := make([]map[string]any, 0, batch)
	for i := 0; i < batch; i++ {
		data = append(data, generateEntity(rng, entity))
	}

	return envelope{
		Data:      data,
		Operation: titleCase(entity) + opSuffix,
		User: map[string]any{
			"id":    gofakeit.UUID(),
			"name":  gofakeit.Name(),
			"email": gofakeit.Email(),
		},
		Timestamp: ts.UnixMilli(),
	}
}

func generateEntity(rng *rand.Rand, entityType string) map[string]any {
	switch entityType {
	case "contact":
		return map[string]any{
			"id":                 fmt.Sprintf("%d", 10000+rng.Intn(90000)),
			"first_name":         gofakeit.FirstName(),
			"last_name":          gofakeit.LastName(),
			"email":              gofakeit.Email(),
			"phone":              gofakeit.Phone(),
			"company_name":       gofakeit.Company(),
			"departments":        "Sales, Engineering",
			"date_last_modified": time.Now().Format(time.RFC3339),
			"owner": map[string]any{
				"email": gofakeit.Email(),
				"name":  gofakeit.Name(),
			},
		}
	case "job_order":
		return map[string]any{
			"id":              fmt.Sprintf("%d", 10000+rng.Intn(90000)),
			"title":           gofakeit.JobTitle(),
			"status":          []string{"open", "on_hold", "filled"}[rng.Intn(3)],
			"employment_type": []string{"permanent", "contract"}[rng.Intn(2)],
			"required_skills": `["go","postgres","kubernetes"]`,
			"contact_phone":   gofakeit.Phone(),
			"date_opened":     time.Now().AddDate(0, 0, -rng.Intn(90)).Format("2006-01-02"),
			"openings":        1 + rng.Intn(5),
		}
	default:
		return map[string]any{
			"id":                 fmt.Sprintf("%d", 10000+rng.Intn(90000)),
			"first_name":         gofakeit.FirstName(),
			"last_name":          gofakeit.LastName(),
			"email":              gofakeit.Email(),
			"phone":              gofakeit.Phone(),
			"mobile_phone":       gofakeit.Phone(),
			"skills":             "go, sql, communication",
			"date_available":     time.Now().AddDate(0, 1, 0).Format("2006-01-02"),
			"date_last_modified": time.Now().Format(time.RFC3339),
			"salary_expectation": 50000 + rng.Intn(100000),
			"owner_email":        gofakeit.Email(),
			"owner_name":         gofakeit.Name(),
		}
	}
}

func send(client *http.Client, target, secret string, body []byte) error {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("receiver returned %s", resp.Status)
	}
	return nil
}

func titleCase(entityType string) string {
	out := make([]byte, 0, len(entityType))
	upper := true
	for i := 0; i < len(entityType); i++ {
		c := entityType[i]
		if c == '_' {
			upper = true
			continue
		}
		if upper && c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper = false
		out = append(out, c)
	}
	return string(out)
}
