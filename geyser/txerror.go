package geyser

// TxError is the failure reported for an executed transaction.
type TxError struct {
	// Code is the host's error classification.
	Code TxErrorCode
	// Detail carries instruction-level detail, when present.
	Detail string
}

// TxErrorCode enumerates the host's transaction error taxonomy. Codes are
// persisted as snake_case strings; an unrecognized code is stored as
// TxErrOther with the raw code preserved in the error detail.
type TxErrorCode string

const (
	TxErrAccountInUse                          TxErrorCode = "account_in_use"
	TxErrAccountLoadedTwice                    TxErrorCode = "account_loaded_twice"
	TxErrAccountNotFound                       TxErrorCode = "account_not_found"
	TxErrProgramAccountNotFound                TxErrorCode = "program_account_not_found"
	TxErrInsufficientFundsForFee               TxErrorCode = "insufficient_funds_for_fee"
	TxErrInvalidAccountForFee                  TxErrorCode = "invalid_account_for_fee"
	TxErrAlreadyProcessed                      TxErrorCode = "already_processed"
	TxErrBlockhashNotFound                     TxErrorCode = "blockhash_not_found"
	TxErrInstructionError                      TxErrorCode = "instruction_error"
	TxErrCallChainTooDeep                      TxErrorCode = "call_chain_too_deep"
	TxErrMissingSignatureForFee                TxErrorCode = "missing_signature_for_fee"
	TxErrInvalidAccountIndex                   TxErrorCode = "invalid_account_index"
	TxErrSignatureFailure                      TxErrorCode = "signature_failure"
	TxErrInvalidProgramForExecution            TxErrorCode = "invalid_program_for_execution"
	TxErrSanitizeFailure                       TxErrorCode = "sanitize_failure"
	TxErrClusterMaintenance                    TxErrorCode = "cluster_maintenance"
	TxErrAccountBorrowOutstanding              TxErrorCode = "account_borrow_outstanding"
	TxErrWouldExceedMaxAccountCostLimit        TxErrorCode = "would_exceed_max_account_cost_limit"
	TxErrWouldExceedMaxBlockCostLimit          TxErrorCode = "would_exceed_max_block_cost_limit"
	TxErrUnsupportedVersion                    TxErrorCode = "unsupported_version"
	TxErrInvalidWritableAccount                TxErrorCode = "invalid_writable_account"
	TxErrWouldExceedMaxVoteCostLimit           TxErrorCode = "would_exceed_max_vote_cost_limit"
	TxErrWouldExceedAccountDataBlockLimit      TxErrorCode = "would_exceed_account_data_block_limit"
	TxErrWouldExceedAccountDataTotalLimit      TxErrorCode = "would_exceed_account_data_total_limit"
	TxErrTooManyAccountLocks                   TxErrorCode = "too_many_account_locks"
	TxErrAddressLookupTableNotFound            TxErrorCode = "address_lookup_table_not_found"
	TxErrInvalidAddressLookupTableOwner        TxErrorCode = "invalid_address_lookup_table_owner"
	TxErrInvalidAddressLookupTableData         TxErrorCode = "invalid_address_lookup_table_data"
	TxErrInvalidAddressLookupTableIndex        TxErrorCode = "invalid_address_lookup_table_index"
	TxErrInvalidRentPayingAccount              TxErrorCode = "invalid_rent_paying_account"
	TxErrDuplicateInstruction                  TxErrorCode = "duplicate_instruction"
	TxErrInsufficientFundsForRent              TxErrorCode = "insufficient_funds_for_rent"
	TxErrMaxLoadedAccountsDataSizeExceeded     TxErrorCode = "max_loaded_accounts_data_size_exceeded"
	TxErrInvalidLoadedAccountsDataSizeLimit    TxErrorCode = "invalid_loaded_accounts_data_size_limit"
	TxErrResanitizationNeeded                  TxErrorCode = "resanitization_needed"
	TxErrUnbalancedTransaction                 TxErrorCode = "unbalanced_transaction"
	TxErrProgramExecutionTemporarilyRestricted TxErrorCode = "program_execution_temporarily_restricted"
	TxErrOther                                 TxErrorCode = "other"
)

var knownTxErrorCodes = map[TxErrorCode]struct{}{
	TxErrAccountInUse:                          {},
	TxErrAccountLoadedTwice:                    {},
	TxErrAccountNotFound:                       {},
	TxErrProgramAccountNotFound:                {},
	TxErrInsufficientFundsForFee:               {},
	TxErrInvalidAccountForFee:                  {},
	TxErrAlreadyProcessed:                      {},
	TxErrBlockhashNotFound:                     {},
	TxErrInstructionError:                      {},
	TxErrCallChainTooDeep:                      {},
	TxErrMissingSignatureForFee:                {},
	TxErrInvalidAccountIndex:                   {},
	TxErrSignatureFailure:                      {},
	TxErrInvalidProgramForExecution:            {},
	TxErrSanitizeFailure:                       {},
	TxErrClusterMaintenance:                    {},
	TxErrAccountBorrowOutstanding:              {},
	TxErrWouldExceedMaxAccountCostLimit:        {},
	TxErrWouldExceedMaxBlockCostLimit:          {},
	TxErrUnsupportedVersion:                    {},
	TxErrInvalidWritableAccount:                {},
	TxErrWouldExceedMaxVoteCostLimit:           {},
	TxErrWouldExceedAccountDataBlockLimit:      {},
	TxErrWouldExceedAccountDataTotalLimit:      {},
	TxErrTooManyAccountLocks:                   {},
	TxErrAddressLookupTableNotFound:            {},
	TxErrInvalidAddressLookupTableOwner:        {},
	TxErrInvalidAddressLookupTableData:         {},
	TxErrInvalidAddressLookupTableIndex:        {},
	TxErrInvalidRentPayingAccount:              {},
	TxErrDuplicateInstruction:                  {},
	TxErrInsufficientFundsForRent:              {},
	TxErrMaxLoadedAccountsDataSizeExceeded:     {},
	TxErrInvalidLoadedAccountsDataSizeLimit:    {},
	TxErrResanitizationNeeded:                  {},
	TxErrUnbalancedTransaction:                 {},
	TxErrProgramExecutionTemporarilyRestricted: {},
	TxErrOther:                                 {},
}

// Known is true if the code is part of the recognized taxonomy.
func (c TxErrorCode) Known() bool {
	_, ok := knownTxErrorCodes[c]
	return ok
}
