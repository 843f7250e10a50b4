package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldBuildingID  = "building_id"
	FieldApartmentID = "apartment_id"
	FieldExpenseID   = "expense_id"
	FieldPaymentID   = "payment_id"
	FieldRefType     = "reference_type"
	FieldRefID       = "reference_id"
	FieldAmountCents = "amount_cents"
	FieldEntryCount  = "entry_count"
	FieldYear        = "year"
	FieldMonth       = "month"
	FieldRule        = "distribution_rule"
	FieldBucket      = "aging_bucket"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentAlloc   = "alloc"
	ComponentLedger  = "ledger"
	ComponentBalance = "balance"
	ComponentReserve = "reserve"
	ComponentStorage = "storage"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentExport  = "export"
	ComponentCLI     = "cli"
)

// Operations defines standard operation names
const (
	OpAllocate = "allocate"
	OpPost     = "post"
	OpReverse  = "reverse"
	OpRebuild  = "rebuild"
	OpSnapshot = "snapshot"
	OpBackfill = "backfill"
	OpReport   = "report"
	OpExport   = "export"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)
