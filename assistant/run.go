// Copyright 2025 PennyFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package assistant wires the PennyFlow AI core into an HTTP service:
// completion gateway, digest orchestrator, agentic chat loop, prompt guard.
package assistant

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"pennyflow/platform/assistant/chat"
	"pennyflow/platform/assistant/digest"
	"pennyflow/platform/assistant/guard"
	"pennyflow/platform/assistant/llm"
	"pennyflow/platform/assistant/llm/bedrock"
	"pennyflow/platform/assistant/llm/gemini"
	"pennyflow/platform/assistant/llm/openai"
	"pennyflow/platform/cache"
	"pennyflow/platform/common/usage"
	"pennyflow/platform/shared/report"
	"pennyflow/platform/store"
)

// Run starts the assistant service. It blocks until SIGINT/SIGTERM, then
// drains in-flight requests before exiting.
//
// Environment variables:
//
//	PORT               - HTTP server port (default: 8082)
//	DATABASE_URL       - PostgreSQL connection string (required)
//	REDIS_URL          - Redis connection string (default: redis://localhost:6379)
//	LLM_CONFIG_PATH    - YAML model settings file (optional)
//	AI_DAILY_LIMIT     - per-user daily response allowance, 0 = unlimited
//	OPENAI_API_KEY     - OpenAI API key (optional)
//	OPENROUTER_API_KEY - OpenRouter API key (optional)
//	GROQ_API_KEY       - Groq API key (optional)
//	GEMINI_API_KEY     - Gemini API key (optional)
//	BEDROCK_REGION     - AWS Bedrock region (optional)
func Run() {
	log.Println("Starting PennyFlow Assistant...")

	db, err := sql.Open("postgres", os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	kv, err := cache.NewRedisCache(getEnv("REDIS_URL", "redis://localhost:6379"))
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	cfg, err := llm.LoadConfig(os.Getenv("LLM_CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load LLM config: %v", err)
	}

	clients := buildClients(context.Background())
	llm.RegisterMetrics(prometheus.DefaultRegisterer)
	gateway := llm.NewGateway(clients, cfg)

	st := store.NewPostgres(db)
	recorder := usage.NewRecorder(db)
	digests := digest.NewService(st, kv, gateway, report.NewLogReporter("digest"))
	promptGuard := guard.New(gateway, llm.APIKeyFromEnv(llm.ProviderGroq) != "")
	chatLoop := chat.NewLoop(gateway, st, kv, promptGuard, recorder)

	dailyLimit, _ := strconv.Atoi(getEnv("AI_DAILY_LIMIT", "0"))
	api := NewHandler(digests, chatLoop, kv, recorder, dailyLimit)

	r := mux.NewRouter()
	r.HandleFunc("/health", healthHandler(db, kv)).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	api.RegisterRoutes(r)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	port := getEnv("PORT", "8082")
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      c.Handler(r),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 4 * time.Minute, // digest generation can be slow
	}

	go func() {
		log.Printf("PennyFlow Assistant listening on port %s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

// buildClients constructs one client per provider with credentials present.
// Providers without credentials are simply absent, which excludes them from
// routing without ever being attempted.
func buildClients(ctx context.Context) *llm.Clients {
	clients := llm.NewClients()

	if key := llm.APIKeyFromEnv(llm.ProviderOpenAI); key != "" {
		if c, err := openai.NewOpenAI(key); err == nil {
			clients.RegisterChat(c)
		}
	}
	if key := llm.APIKeyFromEnv(llm.ProviderOpenRouter); key != "" {
		if c, err := openai.NewOpenRouter(key); err == nil {
			clients.RegisterChat(c)
		}
	}
	if key := llm.APIKeyFromEnv(llm.ProviderGroq); key != "" {
		if c, err := openai.NewGroq(key); err == nil {
			clients.RegisterChat(c)
		}
	}
	if key := llm.APIKeyFromEnv(llm.ProviderGemini); key != "" {
		if p, err := gemini.NewProvider(gemini.Config{APIKey: key}); err == nil {
			clients.RegisterText(p)
		}
	}
	if region := os.Getenv("BEDROCK_REGION"); region != "" {
		p, err := bedrock.NewProvider(ctx, region)
		if err != nil {
			log.Printf("Bedrock disabled: %v", err)
		} else {
			clients.RegisterText(p)
		}
	}

	return clients
}

// healthHandler reports the service and its dependencies.
func healthHandler(db *sql.DB, kv cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		components := map[string]bool{
			"database": db.PingContext(ctx) == nil,
			"cache":    cacheHealthy(ctx, kv),
		}
		status := "healthy"
		code := http.StatusOK
		for _, ok := range components {
			if !ok {
				status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     status,
			"service":    "pennyflow-assistant",
			"timestamp":  time.Now().UTC(),
			"components": components,
		}); err != nil {
			log.Printf("Error encoding response: %v", err)
		}
	}
}

func cacheHealthy(ctx context.Context, kv cache.Cache) bool {
	_, err := kv.Get(ctx, "health:probe")
	return err == nil || err == cache.ErrMiss
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
