package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WritingJob is a user's single active writing-desk job: the issue
// description and follow-up Q&A that seed deep research, then the research
// output that seeds letter composition. One row per (owner, in-flight job);
// JobStore.Get resolves "the current one" by owner alone.
type WritingJob struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerUserID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	Phase            string         `gorm:"column:phase;not null;default:'intake'" json:"phase"`
	IssueDescription string         `gorm:"column:issue_description;type:text" json:"issue_description,omitempty"`
	FollowUpQA       datatypes.JSON `gorm:"column:follow_up_qa;type:jsonb" json:"follow_up_qa,omitempty"`
	Notes            string         `gorm:"column:notes;type:text" json:"notes,omitempty"`

	ResearchStatus     string `gorm:"column:research_status;index" json:"research_status,omitempty"`
	ResearchContent    string `gorm:"column:research_content;type:text" json:"research_content,omitempty"`
	ResearchResponseID string `gorm:"column:research_response_id" json:"research_response_id,omitempty"`

	LetterStatus     string         `gorm:"column:letter_status;index" json:"letter_status,omitempty"`
	LetterTone       string         `gorm:"column:letter_tone" json:"letter_tone,omitempty"`
	LetterContent    string         `gorm:"column:letter_content;type:text" json:"letter_content,omitempty"`
	LetterReferences datatypes.JSON `gorm:"column:letter_references;type:jsonb" json:"letter_references,omitempty"`
	LetterResponseID string         `gorm:"column:letter_response_id" json:"letter_response_id,omitempty"`
	LetterFields     datatypes.JSON `gorm:"column:letter_fields;type:jsonb" json:"letter_fields,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (WritingJob) TableName() string { return "writing_job" }

// followUpQA is the JSON shape stored in WritingJob.FollowUpQA.
type followUpQA struct {
	Questions []string `json:"questions"`
	Answers   []string `json:"answers"`
}

// CreditBalance is a user's atomic credit balance, decremented by
// CreditLedger.Deduct and incremented by CreditLedger.Refund.
type CreditBalance struct {
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	Balance   float64   `gorm:"column:balance;not null;default:0" json:"balance"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (CreditBalance) TableName() string { return "credit_balance" }

// SenderProfile is the authoritative sender/MP context a user fills in once
// and that every letter composition draws from (ProfileLookup).
type SenderProfile struct {
	UserID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	SenderName     string    `gorm:"column:sender_name" json:"sender_name"`
	SenderAddress1 string    `gorm:"column:sender_address_1" json:"sender_address_1"`
	SenderAddress2 string    `gorm:"column:sender_address_2" json:"sender_address_2"`
	SenderAddress3 string    `gorm:"column:sender_address_3" json:"sender_address_3"`
	SenderCity     string    `gorm:"column:sender_city" json:"sender_city"`
	SenderCounty   string    `gorm:"column:sender_county" json:"sender_county"`
	SenderPostcode string    `gorm:"column:sender_postcode" json:"sender_postcode"`
	SenderPhone    string    `gorm:"column:sender_phone" json:"sender_phone"`
	MPName         string    `gorm:"column:mp_name" json:"mp_name"`
	MPAddress1     string    `gorm:"column:mp_address_1" json:"mp_address_1"`
	MPAddress2     string    `gorm:"column:mp_address_2" json:"mp_address_2"`
	MPCity         string    `gorm:"column:mp_city" json:"mp_city"`
	MPCounty       string    `gorm:"column:mp_county" json:"mp_county"`
	MPPostcode     string    `gorm:"column:mp_postcode" json:"mp_postcode"`
	Constituency   string    `gorm:"column:constituency" json:"constituency"`
	UpdatedAt      time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (SenderProfile) TableName() string { return "sender_profile" }
