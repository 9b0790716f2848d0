package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/malikkhubiev/qdrant/internal/models"
	"github.com/malikkhubiev/qdrant/internal/pipeline"
)

func init() {
	seedCmd.Flags().String("dir", "", "directory with .txt, .md or .html documents (required)")
	seedCmd.Flags().String("collection", "knowledge_base", "Qdrant collection name")
	seedCmd.Flags().Int("chunk-size", 500, "max characters per chunk")
	seedCmd.Flags().Bool("force", false, "seed even when the collection already has points")
	seedCmd.MarkFlagRequired("dir")
	rootCmd.AddCommand(seedCmd)
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Embed documents into the Qdrant knowledge base",
	Args:  cobra.NoArgs,
	RunE:  runSeed,
}

var seedExts = map[string]bool{".txt": true, ".md": true, ".html": true, ".htm": true}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg.logLevel)

	dir, _ := cmd.Flags().GetString("dir")
	collection, _ := cmd.Flags().GetString("collection")
	chunkSize, _ := cmd.Flags().GetInt("chunk-size")
	force, _ := cmd.Flags().GetBool("force")

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Minute)
	defer cancel()

	if err := models.NewOllama(cfg.ollamaURL, nil).Ensure(ctx, cfg.embeddingModel); err != nil {
		return fmt.Errorf("embedding model: %w", err)
	}

	embedder := pipeline.NewEmbeddingClient(cfg.ollamaURL, cfg.embeddingModel, 4)
	qdrant := pipeline.NewQdrantClient(cfg.qdrantURL, 4)

	if err := qdrant.EnsureCollection(ctx, collection, cfg.vectorSize); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	if !force {
		count, err := qdrant.CollectionPointCount(ctx, collection)
		if err == nil && count > 0 {
			slog.Info("collection already seeded, skipping", "collection", collection, "points", count)
			return nil
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && seedExts[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("no documents found in %s", dir)
	}

	var total int
	for _, f := range files {
		n, seedErr := seedFile(ctx, f, chunkSize, embedder, qdrant, collection)
		if seedErr != nil {
			slog.Error("seed file", "file", f, "error", seedErr)
			continue
		}
		total += n
		slog.Info("seeded", "file", f, "chunks", n)
	}

	slog.Info("done", "total_chunks", total, "files", len(files))
	return nil
}

func seedFile(ctx context.Context, path string, chunkSize int, embedder *pipeline.EmbeddingClient, qdrant *pipeline.QdrantClient, collection string) (int, error) {
	text, err := loadDocument(path)
	if err != nil {
		return 0, err
	}

	chunks := chunkText(text, chunkSize)
	points := make([]pipeline.QdrantPoint, 0, len(chunks))
	for _, chunk := range chunks {
		vector, embedErr := embedder.Embed(ctx, chunk)
		if embedErr != nil {
			return 0, fmt.Errorf("embed chunk: %w", embedErr)
		}
		points = append(points, pipeline.QdrantPoint{
			ID:     uuid.NewString(),
			Vector: vector,
			Payload: map[string]interface{}{
				"text":   chunk,
				"source": filepath.Base(path),
			},
		})
	}
	if len(points) == 0 {
		return 0, nil
	}

	if err := qdrant.Upsert(ctx, collection, points); err != nil {
		return 0, fmt.Errorf("upsert: %w", err)
	}
	return len(points), nil
}

// loadDocument reads a knowledge file as plain text, converting HTML to Markdown.
func loadDocument(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		md, convErr := htmltomarkdown.ConvertString(string(data))
		if convErr != nil {
			return "", fmt.Errorf("convert html: %w", convErr)
		}
		return md, nil
	default:
		return string(data), nil
	}
}

// chunkText packs paragraphs into chunks of at most maxChars characters. A
// single paragraph longer than maxChars becomes its own chunk.
func chunkText(text string, maxChars int) []string {
	var chunks []string
	var current strings.Builder

	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if current.Len()+len(p) > maxChars && current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}

	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
