package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// LLMConfig describes one model endpoint. Provider is "openai" for any
// OpenAI-compatible API (OpenRouter, Groq, ...) or "ollama" for a local
// server.
type LLMConfig struct {
	Provider       string  `yaml:"provider"`
	BaseURL        string  `yaml:"base_url"`
	Key            string  `yaml:"key"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// RAGConfig holds the chunking and retrieval tuning knobs. The defaults
// come from tuning against real grade 1-5 textbooks; none of them is a
// correctness constraint.
type RAGConfig struct {
	ChunkSize        int     `yaml:"chunk_size"`
	ChunkOverlap     int     `yaml:"chunk_overlap"`
	TopK             int     `yaml:"top_k"`
	MinScore         float64 `yaml:"min_score"`
	MaxContextChunks int     `yaml:"max_context_chunks"`
	MinPageChars     int     `yaml:"min_page_chars"`
	MinChunkChars    int     `yaml:"min_chunk_chars"`
	EmbedBatchSize   int     `yaml:"embed_batch_size"`
}

// VectorConfig configures the embedded chromem store.
type VectorConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
	Compress bool   `yaml:"compress"`
}

// SafetyConfig tunes the keyword validator and the output safety check.
// FailClosed=false (the default) treats a broken safety-check call as
// "safe" so an infrastructure hiccup never blocks every answer; flip it
// for deployments that prefer strictness over availability.
type SafetyConfig struct {
	FailClosed        bool `yaml:"fail_closed"`
	ForbiddenDocHits  int  `yaml:"forbidden_doc_hits"`
	MinSubjectMatches int  `yaml:"min_subject_matches"`
	MinDocumentChars  int  `yaml:"min_document_chars"`
}

// MemoryConfig sizes the rolling conversation window.
type MemoryConfig struct {
	MaxPairs int `yaml:"max_pairs"`
}

// HistoryConfig configures the optional Postgres chat-history store.
type HistoryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type Config struct {
	HeavyLLM LLMConfig     `yaml:"heavy_llm"`
	FastLLM  LLMConfig     `yaml:"fast_llm"`
	EmbedLLM LLMConfig     `yaml:"embed_llm"`
	RAG      RAGConfig     `yaml:"rag"`
	Vector   VectorConfig  `yaml:"vector"`
	Safety   SafetyConfig  `yaml:"safety"`
	Memory   MemoryConfig  `yaml:"memory"`
	History  HistoryConfig `yaml:"history"`
}

// Default returns a config with every knob at its tuned default. API
// keys are left empty; the service degrades to templated fallbacks when
// a model endpoint is not configured.
func Default() *Config {
	cfg := &Config{
		HeavyLLM: LLMConfig{
			Provider:       "openai",
			BaseURL:        "https://api.groq.com/openai/v1",
			Model:          "llama-3.3-70b-versatile",
			Temperature:    0.3,
			TimeoutSeconds: 45,
		},
		FastLLM: LLMConfig{
			Provider:       "openai",
			BaseURL:        "https://api.groq.com/openai/v1",
			Model:          "llama-3.1-8b-instant",
			Temperature:    0.5,
			TimeoutSeconds: 30,
		},
		EmbedLLM: LLMConfig{
			Provider:       "ollama",
			BaseURL:        "http://localhost:11434",
			Model:          "nomic-embed-text",
			TimeoutSeconds: 30,
		},
		Vector: VectorConfig{Path: "./tutordb"},
	}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads a yaml config file and fills in defaults for any
// zero-valued knob, so a partial file stays valid.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = 800
	}
	if c.RAG.ChunkOverlap == 0 {
		c.RAG.ChunkOverlap = 150
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = 6
	}
	if c.RAG.MinScore == 0 {
		c.RAG.MinScore = 0.30
	}
	if c.RAG.MaxContextChunks == 0 {
		c.RAG.MaxContextChunks = 3
	}
	if c.RAG.MinPageChars == 0 {
		c.RAG.MinPageChars = 50
	}
	if c.RAG.MinChunkChars == 0 {
		c.RAG.MinChunkChars = 100
	}
	if c.RAG.EmbedBatchSize == 0 {
		c.RAG.EmbedBatchSize = 50
	}
	if c.Safety.ForbiddenDocHits == 0 {
		c.Safety.ForbiddenDocHits = 3
	}
	if c.Safety.MinSubjectMatches == 0 {
		c.Safety.MinSubjectMatches = 5
	}
	if c.Safety.MinDocumentChars == 0 {
		c.Safety.MinDocumentChars = 200
	}
	if c.Memory.MaxPairs == 0 {
		c.Memory.MaxPairs = 3
	}
	if c.Vector.Path == "" {
		c.Vector.Path = "./tutordb"
	}
	if c.HeavyLLM.TimeoutSeconds == 0 {
		c.HeavyLLM.TimeoutSeconds = 45
	}
	if c.FastLLM.TimeoutSeconds == 0 {
		c.FastLLM.TimeoutSeconds = 30
	}
	if c.EmbedLLM.TimeoutSeconds == 0 {
		c.EmbedLLM.TimeoutSeconds = 30
	}
}
