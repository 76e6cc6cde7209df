package models

// Task statuses. Forward-only except for explicit operator reset.
const (
	StatusPending                 = "pending"
	StatusProcessing              = "processing"
	StatusReviewRequested         = "review_requested"
	StatusSecurityReviewRequested = "security_review_requested"
	StatusMentionTriggered        = "mention_triggered"
	StatusUnderReview             = "under_review"
	StatusReadyToMerge            = "ready_to_merge"
	StatusCompleted               = "completed"
	StatusFailed                  = "failed"
)

// Agent roles.
const (
	RoleWebapp         = "webapp"
	RoleInfrastructure = "infrastructure"
	RoleTenantAPI      = "tenant-api"
	RoleReferential    = "referential"
	RoleMailServer     = "mail-server"
	RoleLandingPage    = "landing-page"
	RoleSecurity       = "security"
	RoleTechLead       = "tech-lead"
	RoleAccessibility  = "accessibility"
)

// Tracker labels.
const (
	LabelEpic            = "type:epic"
	LabelProcessing      = "processing"
	LabelAnalysisFailed  = "analysis-failed"
	LabelReviewRequested = "status:review-requested"
	LabelAgentPrefix     = "agent:"
)

// ReviewMarkerPrefix starts every reviewer report comment; the aggregator
// counts distinct roles after this prefix to decide quorum.
const ReviewMarkerPrefix = "### Review — "

const (
	// SentinelIssueNumber is recorded when tracker issue creation fails, so
	// the rest of the batch can proceed and the failure stays visible.
	SentinelIssueNumber = 999

	// PlaceholderSuffix marks a dependency reference awaiting issue-number
	// substitution.
	PlaceholderSuffix = "-TBD"

	// EpicMarker prefixes epic titles in the tracker.
	EpicMarker = "[EPIC]"
)

// Plan validation policy: few, complete, self-contained tasks.
const (
	MaxTasksPerEpic    = 2
	MinTaskBodyLength  = 100
	MaxDispatchRetries = 5
)
