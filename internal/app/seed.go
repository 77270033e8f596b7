package app

import (
	"context"
	"fmt"

	"github.com/stephen37/voice-assistant/pkg/memory"
	"github.com/stephen37/voice-assistant/pkg/provider/embeddings"
)

// SeedSource labels the sample passages in the knowledge base.
const SeedSource = "seed"

// SamplePassages are indexed at startup so the knowledge branch has something
// to answer from: four on the history of AI and three on Milvus.
var SamplePassages = []string{
	"In 1950, Alan Turing published his seminal paper, 'Computing Machinery and Intelligence,' proposing the Turing Test as a criterion of intelligence, a foundational concept in the philosophy and development of artificial intelligence.",
	"The Dartmouth Conference in 1956 is considered the birthplace of artificial intelligence as a field; here, John McCarthy and others coined the term 'artificial intelligence' and laid out its basic goals.",
	"In 1951, British mathematician and computer scientist Alan Turing also developed the first program designed to play chess, demonstrating an early example of AI in game strategy.",
	"The invention of the Logic Theorist by Allen Newell, Herbert A. Simon, and Cliff Shaw in 1955 marked the creation of the first true AI program, which was capable of solving logic problems, akin to proving mathematical theorems.",
	"The High-Performance Vector Database Built for Scale. Milvus is an open-source vector database built for GenAI applications. Install with pip, perform high-speed searches, and scale to tens of billions of vectors with minimal performance loss.",
	"Milvus is an open-source project under LF AI & Data Foundation distributed under the Apache 2.0 license. Most contributors are experts from the high-performance computing (HPC) community, specializing in building large-scale systems and optimizing hardware-aware code. Core contributors include professionals from Zilliz, ARM, NVIDIA, AMD, Intel, Meta, IBM, Salesforce, Alibaba, and Microsoft.",
	`What Makes Milvus so Fast?
Milvus was designed from day one to be a highly efficient vector database system. In most cases, Milvus outperforms other vector databases by 2-5x (see the VectorDBBench results). This high performance is the result of several key design decisions:

Hardware-aware Optimization: To accommodate Milvus in various hardware environments, we have optimized its performance specifically for many hardware architectures and platforms, including AVX512, SIMD, GPUs, and NVMe SSD.

Advanced Search Algorithms: Milvus supports a wide range of in-memory and on-disk indexing/search algorithms, including IVF, HNSW, DiskANN, and more, all of which have been deeply optimized. Compared to popular implementations like FAISS and HNSWLib, Milvus delivers 30%-70% better performance.

Search Engine in C++: Over 80% of a vector database's performance is determined by its search engine. Milvus uses C++ for this critical component due to the language's high performance, low-level optimization, and efficient resource management. Most importantly, Milvus integrates numerous hardware-aware code optimizations, ranging from assembly-level vectorization to multi-thread parallelization and scheduling, to fully leverage hardware capabilities.

Column-Oriented: Milvus is a column-oriented vector database system. The primary advantages come from the data access patterns. When performing queries, a column-oriented database reads only the specific fields involved in the query, rather than entire rows, which greatly reduces the amount of data accessed. Additionally, operations on column-based data can be easily vectorized, allowing for operations to be applied in the entire columns at once, further enhancing performance.`,
}

// Seed drops and recreates the knowledge base, then indexes
// [SamplePassages]. It returns the number of passages indexed.
func Seed(ctx context.Context, kb memory.KnowledgeBase, emb embeddings.Provider) (int, error) {
	if err := kb.Reset(ctx); err != nil {
		return 0, fmt.Errorf("app: seed: %w", err)
	}
	n, err := memory.IndexTexts(ctx, kb, emb, SeedSource, SamplePassages...)
	if err != nil {
		return 0, fmt.Errorf("app: seed: %w", err)
	}
	return n, nil
}
