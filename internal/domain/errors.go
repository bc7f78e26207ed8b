package domain

import (
	"errors"
	"fmt"
)

// Category sentinels shared by every subsystem.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrDuplicate     = fmt.Errorf("duplicate")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
	ErrConflict      = fmt.Errorf("conflict")
)

// Orchestration failure taxonomy.
//
// Decomposition and aggregation failures are fatal to a query. Agent process
// failures are converted to a dropped task by dispatch. Candidate failures
// never leave the agent that produced them.
var (
	ErrDecomposition    = fmt.Errorf("query decomposition failed")
	ErrAgentProcess     = fmt.Errorf("agent process failed")
	ErrCandidateFailure = fmt.Errorf("candidate failed")
	ErrAggregation      = fmt.Errorf("aggregation failed")
)

// Sentinel errors for adapters and infrastructure.
var (
	ErrProviderNotFound = fmt.Errorf("llm provider not found")
	ErrLLMResponse      = fmt.Errorf("llm response malformed")
	ErrConfigLoad       = fmt.Errorf("failed to load configuration")
	ErrContextOverflow  = fmt.Errorf("context window exceeded")
	ErrRateLimit        = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid      = fmt.Errorf("authentication failed")
	ErrCircuitOpen      = fmt.Errorf("circuit breaker open")

	ErrEmbeddingFailed = fmt.Errorf("embedding generation failed")
	ErrVectorStore     = fmt.Errorf("vector store operation failed")
	ErrVectorSearch    = fmt.Errorf("vector search failed")

	ErrConfluence    = fmt.Errorf("confluence request failed")
	ErrSpecLoad      = fmt.Errorf("api spec load failed")
	ErrEndpointCall  = fmt.Errorf("api endpoint call failed")
	ErrParamsInvalid = fmt.Errorf("api parameters invalid")
	ErrRepository    = fmt.Errorf("repository operation failed")
	ErrSyncRunning   = fmt.Errorf("document sync already running")
	ErrHostBlocked   = fmt.Errorf("outbound host blocked")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "orchestrator.decompose")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "confluence"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTimeout)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeProviderError    ErrorCode = "PROVIDER_ERROR"
	CodeConflict         ErrorCode = "CONFLICT"
	CodeDecomposition    ErrorCode = "DECOMPOSITION"
	CodeAgentProcess     ErrorCode = "AGENT_PROCESS"
	CodeCandidateFailure ErrorCode = "CANDIDATE_FAILURE"
	CodeAggregation      ErrorCode = "AGGREGATION"
	CodeProviderNotFound ErrorCode = "PROVIDER_NOT_FOUND"
	CodeLLMResponse      ErrorCode = "LLM_RESPONSE"
	CodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	CodeContextOverflow  ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit        ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid      ErrorCode = "AUTH_INVALID"
	CodeCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	CodeEmbeddingFailed  ErrorCode = "EMBEDDING_FAILED"
	CodeVectorStore      ErrorCode = "VECTOR_STORE"
	CodeVectorSearch     ErrorCode = "VECTOR_SEARCH"
	CodeConfluence       ErrorCode = "CONFLUENCE"
	CodeSpecLoad         ErrorCode = "SPEC_LOAD"
	CodeEndpointCall     ErrorCode = "ENDPOINT_CALL"
	CodeParamsInvalid    ErrorCode = "PARAMS_INVALID"
	CodeRepository       ErrorCode = "REPOSITORY"
	CodeSyncRunning      ErrorCode = "SYNC_RUNNING"
	CodeHostBlocked      ErrorCode = "HOST_BLOCKED"

	// Subsystem-specific codes resolved through subSystemCodeMap.
	CodeQueryNotFound    ErrorCode = "QUERY_NOT_FOUND"
	CodeUserNotFound     ErrorCode = "USER_NOT_FOUND"
	CodeUserDuplicate    ErrorCode = "USER_DUPLICATE"
	CodeAPIKeyNotFound   ErrorCode = "API_KEY_NOT_FOUND"
	CodePageNotFound     ErrorCode = "CONFLUENCE_PAGE_NOT_FOUND"
	CodeEndpointTimeout  ErrorCode = "ENDPOINT_TIMEOUT"
	CodeAgentTimeout     ErrorCode = "AGENT_TIMEOUT"
	CodeDocumentNotFound ErrorCode = "DOCUMENT_NOT_FOUND"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:      CodeNotFound,
	ErrDuplicate:     CodeDuplicate,
	ErrTimeout:       CodeTimeout,
	ErrInvalidInput:  CodeInvalidInput,
	ErrProviderError: CodeProviderError,
	ErrConflict:      CodeConflict,

	ErrDecomposition:    CodeDecomposition,
	ErrAgentProcess:     CodeAgentProcess,
	ErrCandidateFailure: CodeCandidateFailure,
	ErrAggregation:      CodeAggregation,

	ErrProviderNotFound: CodeProviderNotFound,
	ErrLLMResponse:      CodeLLMResponse,
	ErrConfigLoad:       CodeConfigLoad,
	ErrContextOverflow:  CodeContextOverflow,
	ErrRateLimit:        CodeRateLimit,
	ErrAuthInvalid:      CodeAuthInvalid,
	ErrCircuitOpen:      CodeCircuitOpen,
	ErrEmbeddingFailed:  CodeEmbeddingFailed,
	ErrVectorStore:      CodeVectorStore,
	ErrVectorSearch:     CodeVectorSearch,
	ErrConfluence:       CodeConfluence,
	ErrSpecLoad:         CodeSpecLoad,
	ErrEndpointCall:     CodeEndpointCall,
	ErrParamsInvalid:    CodeParamsInvalid,
	ErrRepository:       CodeRepository,
	ErrSyncRunning:      CodeSyncRunning,
	ErrHostBlocked:      CodeHostBlocked,
}

// errorPriority lists the sentinels checked by ErrorCodeOf when walking a
// wrapped chain. Pipeline-stage sentinels come first so that a decomposition
// failure caused by a malformed LLM reply reports DECOMPOSITION.
var errorPriority = []error{
	ErrDecomposition, ErrAggregation, ErrAgentProcess, ErrCandidateFailure,
	ErrCircuitOpen, ErrRateLimit, ErrAuthInvalid, ErrContextOverflow,
	ErrLLMResponse, ErrProviderNotFound, ErrConfigLoad,
	ErrEmbeddingFailed, ErrVectorStore, ErrVectorSearch,
	ErrConfluence, ErrSpecLoad, ErrEndpointCall, ErrParamsInvalid,
	ErrHostBlocked, ErrRepository, ErrSyncRunning,
	ErrNotFound, ErrDuplicate, ErrTimeout, ErrInvalidInput, ErrProviderError, ErrConflict,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"query":      CodeQueryNotFound,
		"user":       CodeUserNotFound,
		"apikey":     CodeAPIKeyNotFound,
		"confluence": CodePageNotFound,
		"document":   CodeDocumentNotFound,
	},
	ErrDuplicate: {
		"user": CodeUserDuplicate,
	},
	ErrTimeout: {
		"openapi": CodeEndpointTimeout,
		"agent":   CodeAgentTimeout,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for _, sentinel := range errorPriority {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
