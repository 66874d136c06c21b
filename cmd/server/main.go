package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"lessonplan-ai/internal/api"
	"lessonplan-ai/internal/config"
	"lessonplan-ai/internal/db"
	"lessonplan-ai/internal/services"
)

func main() {
	cfg := config.Load()

	conn, err := db.Open(cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer conn.Close()

	documentService := services.NewDocumentService(conn, cfg.UploadDir)
	generationService := services.NewGenerationService(conn)
	pdfService := services.NewPDFService()
	plannerService := services.NewPlannerService(
		cfg.OpenAIKey,
		cfg.OpenAIModel,
		cfg.OpenAIEndpoint,
		cfg.CleanupUpstream,
	)

	server := api.NewServer(plannerService, documentService, generationService, pdfService)
	mux := http.NewServeMux()

	assetsFS := http.FileServer(http.Dir("./internal/web/assets"))
	mux.Handle("/assets/", http.StripPrefix("/assets/", assetsFS))

	mux.HandleFunc("/", serveFile("./internal/web/index.html"))

	mux.Handle("/generate-lesson-plan", server.Handler())
	mux.Handle("/api", server.Handler())
	mux.Handle("/api/", server.Handler())

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("listening on :%s", port)

	srv := &http.Server{
		Addr:        ":" + port,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// The generation handler can legitimately block for the full
		// 90s poll ceiling before writing anything.
		WriteTimeout: 150 * time.Second,
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed: %v", err)
	}
}

func serveFile(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		http.ServeFile(w, r, path)
	}
}
