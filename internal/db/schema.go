package db

// SchemaSQL contains the database schema initialization SQL.
//
// Pages and code examples carry one fixed-width embedding column per
// supported dimension, each with its own HNSW index. Writers pick the column
// matching the active embedding provider; see vectorColumnFor.
const SchemaSQL = `
    -- ==========================================================================
    -- SOURCE TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS source SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS url ON source TYPE string;
    DEFINE FIELD IF NOT EXISTS display_name ON source TYPE string;
    DEFINE FIELD IF NOT EXISTS metadata ON source TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS last_crawled ON source TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS created_at ON source TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS source_url ON source FIELDS url UNIQUE;

    -- ==========================================================================
    -- QUEUE_ITEM TABLE (durable crawl/extraction queue)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS queue_item SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS source_ref ON queue_item TYPE string;
    DEFINE FIELD IF NOT EXISTS source_id ON queue_item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS batch_id ON queue_item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS status ON queue_item TYPE string
        ASSERT $value IN ['pending', 'running', 'completed', 'failed', 'cancelled'];
    DEFINE FIELD IF NOT EXISTS priority ON queue_item TYPE int;
    DEFINE FIELD IF NOT EXISTS retry_count ON queue_item TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS max_retries ON queue_item TYPE int DEFAULT 3;
    DEFINE FIELD IF NOT EXISTS error_type ON queue_item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS error_message ON queue_item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS error_details ON queue_item TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS requires_human_review ON queue_item TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS extract_code_examples ON queue_item TYPE bool DEFAULT true;
    DEFINE FIELD IF NOT EXISTS claimed_by ON queue_item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created_at ON queue_item TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS started_at ON queue_item TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS completed_at ON queue_item TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS last_retry_at ON queue_item TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS next_retry_at ON queue_item TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS queue_status ON queue_item FIELDS status;
    DEFINE INDEX IF NOT EXISTS queue_batch ON queue_item FIELDS batch_id;
    DEFINE INDEX IF NOT EXISTS queue_review ON queue_item FIELDS requires_human_review;

    -- ==========================================================================
    -- PAGE TABLE (stored content chunks)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS page SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS source_id ON page TYPE string;
    DEFINE FIELD IF NOT EXISTS url ON page TYPE string;
    DEFINE FIELD IF NOT EXISTS content ON page TYPE string;
    DEFINE FIELD IF NOT EXISTS chunk_number ON page TYPE int;
    DEFINE FIELD IF NOT EXISTS embedding_384 ON page TYPE option<array<float>>;
    DEFINE FIELD IF NOT EXISTS embedding_768 ON page TYPE option<array<float>>;
    DEFINE FIELD IF NOT EXISTS embedding_1024 ON page TYPE option<array<float>>;
    DEFINE FIELD IF NOT EXISTS embedding_1536 ON page TYPE option<array<float>>;
    DEFINE FIELD IF NOT EXISTS embedding_3072 ON page TYPE option<array<float>>;
    DEFINE FIELD IF NOT EXISTS embedding_3584 ON page TYPE option<array<float>>;
    DEFINE FIELD IF NOT EXISTS created_at ON page TYPE datetime DEFAULT time::now();

    -- bulk delete by source runs on every re-crawl
    DEFINE INDEX IF NOT EXISTS page_source ON page FIELDS source_id;
    DEFINE INDEX IF NOT EXISTS page_url_chunk ON page FIELDS url, chunk_number UNIQUE;
    DEFINE INDEX IF NOT EXISTS page_embedding_384 ON page FIELDS embedding_384 HNSW DIMENSION 384 DIST COSINE TYPE F32;
    DEFINE INDEX IF NOT EXISTS page_embedding_768 ON page FIELDS embedding_768 HNSW DIMENSION 768 DIST COSINE TYPE F32;
    DEFINE INDEX IF NOT EXISTS page_embedding_1024 ON page FIELDS embedding_1024 HNSW DIMENSION 1024 DIST COSINE TYPE F32;
    DEFINE INDEX IF NOT EXISTS page_embedding_1536 ON page FIELDS embedding_1536 HNSW DIMENSION 1536 DIST COSINE TYPE F32;
    DEFINE INDEX IF NOT EXISTS page_embedding_3072 ON page FIELDS embedding_3072 HNSW DIMENSION 3072 DIST COSINE TYPE F32;
    DEFINE INDEX IF NOT EXISTS page_embedding_3584 ON page FIELDS embedding_3584 HNSW DIMENSION 3584 DIST COSINE TYPE F32;
    DEFINE ANALYZER IF NOT EXISTS page_analyzer TOKENIZERS class FILTERS lowercase, ascii, snowball(english);
    DEFINE INDEX IF NOT EXISTS page_content_ft ON page FIELDS content FULLTEXT ANALYZER page_analyzer BM25;

    -- ==========================================================================
    -- CODE_EXAMPLE TABLE (extracted artifacts)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS code_example SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS source_id ON code_example TYPE string;
    DEFINE FIELD IF NOT EXISTS page_id ON code_example TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS code ON code_example TYPE string;
    DEFINE FIELD IF NOT EXISTS summary ON code_example TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS language ON code_example TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS embedding_384 ON code_example TYPE option<array<float>>;
    DEFINE FIELD IF NOT EXISTS embedding_768 ON code_example TYPE option<array<float>>;
    DEFINE FIELD IF NOT EXISTS embedding_1024 ON code_example TYPE option<array<float>>;
    DEFINE FIELD IF NOT EXISTS embedding_1536 ON code_example TYPE option<array<float>>;
    DEFINE FIELD IF NOT EXISTS embedding_3072 ON code_example TYPE option<array<float>>;
    DEFINE FIELD IF NOT EXISTS embedding_3584 ON code_example TYPE option<array<float>>;
    DEFINE FIELD IF NOT EXISTS created_at ON code_example TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS code_example_source ON code_example FIELDS source_id;
    DEFINE INDEX IF NOT EXISTS code_example_384 ON code_example FIELDS embedding_384 HNSW DIMENSION 384 DIST COSINE TYPE F32;
    DEFINE INDEX IF NOT EXISTS code_example_768 ON code_example FIELDS embedding_768 HNSW DIMENSION 768 DIST COSINE TYPE F32;
    DEFINE INDEX IF NOT EXISTS code_example_1024 ON code_example FIELDS embedding_1024 HNSW DIMENSION 1024 DIST COSINE TYPE F32;
    DEFINE INDEX IF NOT EXISTS code_example_1536 ON code_example FIELDS embedding_1536 HNSW DIMENSION 1536 DIST COSINE TYPE F32;
    DEFINE INDEX IF NOT EXISTS code_example_3072 ON code_example FIELDS embedding_3072 HNSW DIMENSION 3072 DIST COSINE TYPE F32;
    DEFINE INDEX IF NOT EXISTS code_example_3584 ON code_example FIELDS embedding_3584 HNSW DIMENSION 3584 DIST COSINE TYPE F32;
    DEFINE ANALYZER IF NOT EXISTS code_analyzer TOKENIZERS class FILTERS lowercase, ascii;
    DEFINE INDEX IF NOT EXISTS code_example_ft ON code_example FIELDS code, summary FULLTEXT ANALYZER code_analyzer BM25;
`
