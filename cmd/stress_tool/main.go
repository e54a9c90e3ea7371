package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Config
const (
	BaseURL = "http://localhost:8080"
)

var (
	orderID   = flag.String("order", "", "已支付订单 ID")
	tokenFile = flag.String("tokens", "", "逗号分隔的骑手 JWT 列表")
	httpClient *http.Client
)

func init() {
	// 优化 HTTP Client 配置
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 2000
	t.MaxIdleConnsPerHost = 2000
	t.MaxConnsPerHost = 2000
	httpClient = &http.Client{
		Transport: t,
		Timeout:   10 * time.Second,
	}
}

func main() {
	flag.Parse()
	tokens := splitTokens(*tokenFile)
	if *orderID == "" || len(tokens) < 2 {
		fmt.Println("usage: stress_tool -order <id> -tokens <jwt,jwt,...>")
		return
	}

	fmt.Printf("开始压测：%d 个骑手并发抢同一单 (OrderID: %s)...\n", len(tokens), *orderID)

	var wg sync.WaitGroup
	successCount := 0
	conflictCount := 0
	var mu sync.Mutex

	start := time.Now()

	for i, token := range tokens {
		wg.Add(1)
		go func(idx int, token string) {
			defer wg.Done()
			ok := acceptOrder(token, idx)
			mu.Lock()
			if ok {
				successCount++
			} else {
				conflictCount++
			}
			mu.Unlock()
		}(i, token)
	}

	wg.Wait()
	duration := time.Since(start)

	fmt.Println("--------------------------------------------------")
	fmt.Printf("压测结束，耗时: %v\n", duration)
	fmt.Printf("总请求数: %d\n", len(tokens))
	fmt.Printf("抢单成功: %d (预期: 1)\n", successCount)
	fmt.Printf("抢单冲突: %d\n", conflictCount)
	fmt.Println("--------------------------------------------------")
}

func splitTokens(s string) []string {
	var tokens []string
	for _, t := range bytes.Split([]byte(s), []byte(",")) {
		if len(t) > 0 {
			tokens = append(tokens, string(t))
		}
	}
	return tokens
}

func acceptOrder(token string, idx int) bool {
	url := fmt.Sprintf("%s/orders/%s/transition", BaseURL, *orderID)
	payload := map[string]interface{}{
		"type":           "accept_delivery",
		"expected":       "processing",
		"courierName":    fmt.Sprintf("rider-%d", idx),
		"idempotencyKey": fmt.Sprintf("stress-%s-%d-%d", *orderID, idx, time.Now().UnixNano()),
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != 200 {
		return false
	}

	var result struct {
		Code int `json:"code"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return false
	}
	return result.Code == 0
}
