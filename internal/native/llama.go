//go:build native

// Package native provides direct CGo bindings to llama.cpp for in-process
// SLM inference. It wraps a thin C binding layer (binding.h/c) that calls
// the llama.h API, exposing Go-safe types.
//
// Build with: go build -tags native
// Requires: pre-built libllama.a and libggml*.a from a vendored llama.cpp.
package native

/*
#cgo CFLAGS: -I${SRCDIR}/../../llama.cpp/include -I${SRCDIR}/../../llama.cpp/ggml/include -O2
#cgo LDFLAGS: -L${SRCDIR}/../../llama.cpp/build/src -L${SRCDIR}/../../llama.cpp/build/ggml/src -lllama -lggml -lggml-cpu -lggml-base -lm -lstdc++ -lpthread -lgomp
#include "binding.h"
#include <stdlib.h>
*/
import "C"
import (
	"runtime"
	"sync"
	"unsafe"

	"tokenforge/internal/logging"
)

// ---------------------------------------------------------------------------
// Backend lifecycle
// ---------------------------------------------------------------------------

var logOnce sync.Once

// BackendInit initializes the llama.cpp backend. Call once at startup.
func BackendInit() {
	C.tf_backend_init()

	// Redirect C-level llama.cpp logs on first init. When file logging is
	// active, send C logs to the same file. Otherwise suppress them so
	// they don't pollute stderr or a running TUI session.
	logOnce.Do(func() {
		if logging.IsFileLogging() {
			if p := logging.GetLogFilePath(); p != "" {
				LogToFile(p)
			}
		} else {
			LogDisable()
		}
	})
}

// BackendFree releases backend resources. Call once at shutdown.
func BackendFree() {
	C.tf_backend_free()
}

// LogToFile redirects all llama.cpp C-level log output to the given file
// (append mode). This prevents C-level messages from appearing on stderr.
func LogToFile(path string) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	C.tf_log_to_file(cpath)
}

// LogDisable suppresses all llama.cpp C-level log output.
func LogDisable() {
	C.tf_log_disable()
}

// ---------------------------------------------------------------------------
// Model — low-level C wrappers
// ---------------------------------------------------------------------------

// cModelLoad loads a GGUF model and returns the opaque C handle.
func cModelLoad(path string, nGPULayers int32, useMmap, useMlock bool) C.tf_model_t {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	return C.tf_model_load(cpath, C.int32_t(nGPULayers),
		C.bool(useMmap), C.bool(useMlock))
}

// cModelFree frees a loaded model.
func cModelFree(m C.tf_model_t) {
	C.tf_model_free(m)
}

// ModelInfo holds model metadata returned from the C layer.
type ModelInfo struct {
	NEmbedding   int32
	NCtxTrain    int32
	NLayer       int32
	NHead        int32
	ModelSize    uint64
	NParams      uint64
	Description  string
	ChatTemplate string
	HasEncoder   bool
}

// cModelGetInfo retrieves model metadata.
func cModelGetInfo(m C.tf_model_t) ModelInfo {
	ci := C.tf_model_get_info(m)
	return ModelInfo{
		NEmbedding:   int32(ci.n_embd),
		NCtxTrain:    int32(ci.n_ctx_train),
		NLayer:       int32(ci.n_layer),
		NHead:        int32(ci.n_head),
		ModelSize:    uint64(ci.model_size),
		NParams:      uint64(ci.n_params),
		Description:  C.GoString(&ci.desc[0]),
		ChatTemplate: C.GoString(&ci.chat_template[0]),
		HasEncoder:   bool(ci.has_encoder),
	}
}

// ---------------------------------------------------------------------------
// Context — low-level C wrappers
// ---------------------------------------------------------------------------

// cContextNew creates an inference context.
func cContextNew(m C.tf_model_t, nCtx, nBatch, nUbatch uint32,
	nThreads, nThreadsBatch int32, embeddings bool, flashAttn int32,
	typeK, typeV int32) C.tf_context_t {
	return C.tf_context_new(m, C.uint32_t(nCtx), C.uint32_t(nBatch), C.uint32_t(nUbatch),
		C.int32_t(nThreads), C.int32_t(nThreadsBatch),
		C.bool(embeddings), C.int32_t(flashAttn),
		C.int32_t(typeK), C.int32_t(typeV))
}

// cContextFree frees an inference context.
func cContextFree(ctx C.tf_context_t) {
	C.tf_context_free(ctx)
}

// ---------------------------------------------------------------------------
// Tokenization — low-level C wrappers
// ---------------------------------------------------------------------------

// cTokenize tokenizes text into the provided slice.
// Returns the number of tokens, or negative if buf is too small.
func cTokenize(m C.tf_model_t, text string, tokens []int32,
	addSpecial, parseSpecial bool) int32 {
	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))

	var tokPtr *C.int32_t
	if len(tokens) > 0 {
		tokPtr = (*C.int32_t)(unsafe.Pointer(&tokens[0]))
	}

	n := int32(C.tf_tokenize(m, ctext, C.int32_t(len(text)),
		tokPtr, C.int32_t(len(tokens)),
		C.bool(addSpecial), C.bool(parseSpecial)))
	runtime.KeepAlive(tokens) // prevent GC of backing array while C uses it
	return n
}

// cTokenToPiece converts a token ID to its text piece.
func cTokenToPiece(m C.tf_model_t, token int32) string {
	buf := make([]byte, 128)
	n := C.tf_token_to_piece(m, C.int32_t(token),
		(*C.char)(unsafe.Pointer(&buf[0])), C.int32_t(len(buf)))
	if n < 0 {
		// Buffer too small, retry with required size.
		buf = make([]byte, -n)
		n = C.tf_token_to_piece(m, C.int32_t(token),
			(*C.char)(unsafe.Pointer(&buf[0])), C.int32_t(len(buf)))
	}
	if n <= 0 {
		return ""
	}
	return string(buf[:n])
}

// cTokenIsEOG checks if a token signals end-of-generation.
func cTokenIsEOG(m C.tf_model_t, token int32) bool {
	return bool(C.tf_token_is_eog(m, C.int32_t(token)))
}

// cTokenBOS returns the beginning-of-sentence token ID.
func cTokenBOS(m C.tf_model_t) int32 {
	return int32(C.tf_token_bos(m))
}

// cTokenEOS returns the end-of-sentence token ID.
func cTokenEOS(m C.tf_model_t) int32 {
	return int32(C.tf_token_eos(m))
}

// cVocabNTokens returns the total number of tokens in the model's vocabulary.
func cVocabNTokens(m C.tf_model_t) int32 {
	return int32(C.tf_vocab_n_tokens(m))
}

// ---------------------------------------------------------------------------
// Decode / Evaluate — low-level C wrappers
// ---------------------------------------------------------------------------

// cDecode evaluates a batch of tokens with automatic position tracking.
func cDecode(ctx C.tf_context_t, tokens []int32) int32 {
	if len(tokens) == 0 {
		return 0
	}
	rc := int32(C.tf_decode(ctx,
		(*C.int32_t)(unsafe.Pointer(&tokens[0])),
		C.int32_t(len(tokens))))
	runtime.KeepAlive(tokens)
	return rc
}

// cDecodeBatch evaluates tokens with explicit position control.
func cDecodeBatch(ctx C.tf_context_t, tokens []int32, posStart int32) int32 {
	if len(tokens) == 0 {
		return 0
	}
	rc := int32(C.tf_decode_batch(ctx,
		(*C.int32_t)(unsafe.Pointer(&tokens[0])),
		C.int32_t(len(tokens)), C.int32_t(posStart)))
	runtime.KeepAlive(tokens)
	return rc
}

// cEncode runs the encoder path (for BERT/encoder-only models). All tokens
// are marked as outputs for embedding extraction.
func cEncode(ctx C.tf_context_t, tokens []int32) int32 {
	if len(tokens) == 0 {
		return 0
	}
	rc := int32(C.tf_encode(ctx,
		(*C.int32_t)(unsafe.Pointer(&tokens[0])),
		C.int32_t(len(tokens))))
	runtime.KeepAlive(tokens)
	return rc
}

// ---------------------------------------------------------------------------
// Embeddings — low-level C wrappers
// ---------------------------------------------------------------------------

// cGetEmbeddings returns the embedding vector for the given output index.
// The returned slice is a Go-owned copy; the caller may hold it indefinitely.
func cGetEmbeddings(ctx C.tf_context_t, m C.tf_model_t, idx int32) []float32 {
	ptr := C.tf_get_embeddings(ctx, C.int32_t(idx))
	if ptr == nil {
		return nil
	}
	info := cModelGetInfo(m)
	nEmbd := info.NEmbedding
	if nEmbd <= 0 {
		return nil
	}
	// Copy from C-owned memory into a Go-allocated slice so the caller
	// is not left holding a dangling pointer after the next decode call.
	cSlice := unsafe.Slice((*float32)(unsafe.Pointer(ptr)), nEmbd)
	result := make([]float32, nEmbd)
	copy(result, cSlice)
	return result
}

// cGetEmbeddingsSeq returns pooled embeddings for a sequence.
// The returned slice is a Go-owned copy; the caller may hold it indefinitely.
func cGetEmbeddingsSeq(ctx C.tf_context_t, m C.tf_model_t, seqID int32) []float32 {
	ptr := C.tf_get_embeddings_seq(ctx, C.int32_t(seqID))
	if ptr == nil {
		return nil
	}
	info := cModelGetInfo(m)
	nEmbd := info.NEmbedding
	if nEmbd <= 0 {
		return nil
	}
	cSlice := unsafe.Slice((*float32)(unsafe.Pointer(ptr)), nEmbd)
	result := make([]float32, nEmbd)
	copy(result, cSlice)
	return result
}

// ---------------------------------------------------------------------------
// KV / Memory management — low-level C wrappers
// ---------------------------------------------------------------------------

// cMemoryClear clears all KV cache contents.
func cMemoryClear(ctx C.tf_context_t) {
	C.tf_memory_clear(ctx)
}

// cMemorySeqRm removes tokens in [p0, p1) for seqID.
func cMemorySeqRm(ctx C.tf_context_t, seqID, p0, p1 int32) bool {
	return bool(C.tf_memory_seq_rm(ctx,
		C.int32_t(seqID), C.int32_t(p0), C.int32_t(p1)))
}

// cMemorySeqCp copies KV state for tokens in [p0, p1) from srcSeqID to
// dstSeqID. This is the C-level primitive behind Environment share modes
// that copy KV state between sibling context nodes.
func cMemorySeqCp(ctx C.tf_context_t, srcSeqID, dstSeqID, p0, p1 int32) {
	C.tf_memory_seq_cp(ctx, C.int32_t(srcSeqID), C.int32_t(dstSeqID),
		C.int32_t(p0), C.int32_t(p1))
}

// cMemorySeqPosMax returns the max position for a sequence, or -1 if empty.
func cMemorySeqPosMax(ctx C.tf_context_t, seqID int32) int32 {
	return int32(C.tf_memory_seq_pos_max(ctx, C.int32_t(seqID)))
}

// cMemorySeqAdd shifts KV cache positions in [p0, p1) for seqID by delta.
// Used for context window sliding: after removing old tokens, shift the
// remaining positions down to keep them contiguous.
func cMemorySeqAdd(ctx C.tf_context_t, seqID, p0, p1, delta int32) {
	C.tf_memory_seq_add(ctx, C.int32_t(seqID),
		C.int32_t(p0), C.int32_t(p1), C.int32_t(delta))
}

// ---------------------------------------------------------------------------
// Speculative decoding — low-level C wrappers
// ---------------------------------------------------------------------------

// cDecodeBatchLogitsAll evaluates tokens with logits computed for ALL tokens.
// Used where a caller needs to inspect the distribution at every position,
// not just the last one — e.g. self-evaluation over a whole completion.
func cDecodeBatchLogitsAll(ctx C.tf_context_t, tokens []int32, posStart int32) int32 {
	if len(tokens) == 0 {
		return 0
	}
	rc := int32(C.tf_decode_batch_logits_all(ctx,
		(*C.int32_t)(unsafe.Pointer(&tokens[0])),
		C.int32_t(len(tokens)), C.int32_t(posStart)))
	runtime.KeepAlive(tokens)
	return rc
}

// cGetLogits returns the logits for the token at output index idx.
// Returns nil if idx is invalid. The returned slice aliases context-owned
// memory and is valid only until the next decode call.
func cGetLogits(ctx C.tf_context_t, idx int32, vocabSize int32) []float32 {
	ptr := C.tf_get_logits(ctx, C.int32_t(idx))
	if ptr == nil {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(ptr)), vocabSize)
}

// ---------------------------------------------------------------------------
// Sampler — low-level C wrappers
// ---------------------------------------------------------------------------

// cSamplerChainNew creates a new sampler chain.
func cSamplerChainNew() C.tf_sampler_t {
	return C.tf_sampler_chain_new()
}

func cSamplerChainAddTemp(chain C.tf_sampler_t, temp float32) {
	C.tf_sampler_chain_add_temp(chain, C.float(temp))
}

func cSamplerChainAddTopK(chain C.tf_sampler_t, k int32) {
	C.tf_sampler_chain_add_top_k(chain, C.int32_t(k))
}

func cSamplerChainAddTopP(chain C.tf_sampler_t, p float32) {
	C.tf_sampler_chain_add_top_p(chain, C.float(p))
}

func cSamplerChainAddMinP(chain C.tf_sampler_t, p float32) {
	C.tf_sampler_chain_add_min_p(chain, C.float(p))
}

func cSamplerChainAddPenalties(chain C.tf_sampler_t, lastN int32, repeat, freq, present float32) {
	C.tf_sampler_chain_add_penalties(chain,
		C.int32_t(lastN), C.float(repeat), C.float(freq), C.float(present))
}

func cSamplerChainAddDist(chain C.tf_sampler_t, seed uint32) {
	C.tf_sampler_chain_add_dist(chain, C.uint32_t(seed))
}

func cSamplerChainAddGreedy(chain C.tf_sampler_t) {
	C.tf_sampler_chain_add_greedy(chain)
}

// cSamplerSample samples a token from context at the given output index.
func cSamplerSample(chain C.tf_sampler_t, ctx C.tf_context_t, idx int32) int32 {
	return int32(C.tf_sampler_sample(chain, ctx, C.int32_t(idx)))
}

// cSamplerAccept pushes an accepted token into the chain's running state
// (repeat-penalty window, grammar state, and similar stateful samplers).
func cSamplerAccept(chain C.tf_sampler_t, token int32) {
	C.tf_sampler_accept(chain, C.int32_t(token))
}

// cSamplerReset resets sampler chain state.
func cSamplerReset(chain C.tf_sampler_t) {
	C.tf_sampler_reset(chain)
}

// cSamplerFree frees the sampler chain and all owned samplers.
func cSamplerFree(chain C.tf_sampler_t) {
	C.tf_sampler_free(chain)
}

// ---------------------------------------------------------------------------
// Context control — low-level C wrappers
// ---------------------------------------------------------------------------

func cSetEmbeddings(ctx C.tf_context_t, enabled bool) {
	C.tf_set_embeddings(ctx, C.bool(enabled))
}

func cSetCausalAttn(ctx C.tf_context_t, causal bool) {
	C.tf_set_causal_attn(ctx, C.bool(causal))
}

func cSetWarmup(ctx C.tf_context_t, warmup bool) {
	C.tf_set_warmup(ctx, C.bool(warmup))
}

func cSetNThreads(ctx C.tf_context_t, nThreads, nThreadsBatch int32) {
	C.tf_set_n_threads(ctx, C.int32_t(nThreads), C.int32_t(nThreadsBatch))
}

// ---------------------------------------------------------------------------
// State save/load — low-level C wrappers
// ---------------------------------------------------------------------------

// cStateSize returns the number of bytes needed to serialize the context's
// full KV state (all sequences).
func cStateSize(ctx C.tf_context_t) uint64 {
	return uint64(C.tf_state_get_size(ctx))
}

// cStateSave serializes the context's KV state into buf. Returns the number
// of bytes written, or 0 if buf is too small.
func cStateSave(ctx C.tf_context_t, buf []byte) uint64 {
	if len(buf) == 0 {
		return 0
	}
	n := C.tf_state_save(ctx, (*C.uint8_t)(unsafe.Pointer(&buf[0])), C.uint64_t(len(buf)))
	runtime.KeepAlive(buf)
	return uint64(n)
}

// cStateLoad deserializes KV state from buf into the context. Returns the
// number of bytes consumed, or 0 on failure.
func cStateLoad(ctx C.tf_context_t, buf []byte) uint64 {
	if len(buf) == 0 {
		return 0
	}
	n := C.tf_state_load(ctx, (*C.uint8_t)(unsafe.Pointer(&buf[0])), C.uint64_t(len(buf)))
	runtime.KeepAlive(buf)
	return uint64(n)
}

// ---------------------------------------------------------------------------
// Performance — low-level C wrappers
// ---------------------------------------------------------------------------

// PerfData holds performance counters from the inference context.
type PerfData struct {
	LoadMs      float64
	PromptMs    float64
	EvalMs      float64
	PromptCount int32
	EvalCount   int32
}

// cPerfContext returns performance counters.
func cPerfContext(ctx C.tf_context_t) PerfData {
	p := C.tf_perf_context(ctx)
	return PerfData{
		LoadMs:      float64(p.t_load_ms),
		PromptMs:    float64(p.t_p_eval_ms),
		EvalMs:      float64(p.t_eval_ms),
		PromptCount: int32(p.n_p_eval),
		EvalCount:   int32(p.n_eval),
	}
}

// cPerfContextReset resets performance counters.
func cPerfContextReset(ctx C.tf_context_t) {
	C.tf_perf_context_reset(ctx)
}

// SystemInfo returns a string describing CPU features and build info.
func SystemInfo() string {
	return C.GoString(C.tf_system_info())
}
