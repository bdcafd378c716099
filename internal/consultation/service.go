package consultation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/mediquory-connect/internal/apperr"
	"github.com/hackgods/mediquory-connect/internal/auth"
	"github.com/hackgods/mediquory-connect/internal/db"
	"github.com/hackgods/mediquory-connect/internal/eventlog"
	"github.com/hackgods/mediquory-connect/internal/notify"
	"github.com/hackgods/mediquory-connect/internal/provider"
	"github.com/hackgods/mediquory-connect/internal/quota"
	redisclient "github.com/hackgods/mediquory-connect/internal/redis"
	"github.com/hackgods/mediquory-connect/internal/subscription"
)

const (
	EventConsultationStarted   = "CONSULTATION_STARTED"
	EventConsultationCompleted = "CONSULTATION_COMPLETED"
	EventMessageCreated        = "MESSAGE_CREATED"
	EventPrescriptionCreated   = "PRESCRIPTION_CREATED"
	EventPaymentProofUploaded  = "PAYMENT_PROOF_UPLOADED"
	EventPaymentConfirmed      = "PAYMENT_CONFIRMED"
)

const maxMessageLength = 4000

// A Start that loses the pair lock re-reads the pair this many times before
// giving up with ErrStartInProgress.
const (
	startAttempts = 6
	startWait     = 50 * time.Millisecond
)

var (
	ErrNotParticipant      = apperr.New(apperr.ErrForbidden, "not a participant of this consultation")
	ErrInsufficientMinutes = apperr.New(apperr.ErrConflict, "no video minutes available: purchase minutes to continue")
	ErrNotVideo            = apperr.New(apperr.ErrConflict, "consultation is not a video consultation")
	ErrRequesterWaitlisted = apperr.New(apperr.ErrConflict, "requester is waitlisted")
	ErrPaymentNotConfirmed = apperr.New(apperr.ErrConflict, "payment has not been confirmed by the provider")
	ErrStartInProgress     = apperr.New(apperr.ErrConflict, "consultation is being started, please retry")
)

// UsageRecorder bills consumed video minutes on q, the transaction that
// completes the consultation.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, q db.Querier, providerID uuid.UUID, minutes int) error
}

type VideoIssuer interface {
	IssueVideo(room string, p auth.Principal) (string, time.Time, error)
}

type FileStore interface {
	Save(ctx context.Context, dir, filename string, r io.Reader) (string, error)
	Read(ctx context.Context, rel string) ([]byte, error)
	Remove(ctx context.Context, rel string) error
}

type Service struct {
	people         provider.Reader
	repo           Repository
	locker         redisclient.Locker
	usage          UsageRecorder
	video          VideoIssuer
	files          FileStore
	notifier       *notify.Dispatcher
	events         *eventlog.Recorder
	requirePayment bool
	startWait      time.Duration
	now            func() time.Time
}

type Deps struct {
	People   provider.Reader
	Repo     Repository
	Locker   redisclient.Locker
	Usage    UsageRecorder
	Video    VideoIssuer
	Files    FileStore
	Notifier *notify.Dispatcher
	Events   *eventlog.Recorder
	// RequirePayment refuses End until the payment proof is confirmed.
	RequirePayment bool
}

func NewService(d Deps) *Service {
	return &Service{
		people:         d.People,
		repo:           d.Repo,
		locker:         d.Locker,
		usage:          d.Usage,
		video:          d.Video,
		files:          d.Files,
		notifier:       d.Notifier,
		events:         d.Events,
		requirePayment: d.RequirePayment,
		startWait:      startWait,
		now:            time.Now,
	}
}

// Start returns the pair's ACTIVE consultation, creating one if none exists.
// created reports whether this call created it.
func (s *Service) Start(ctx context.Context, providerID, requesterID uuid.UUID, kind Kind) (c *Consultation, created bool, err error) {
	if !kind.Valid() {
		return nil, false, apperr.Validation("kind must be CHAT or VIDEO")
	}

	p, err := s.people.GetProvider(ctx, providerID)
	if err != nil {
		return nil, false, fmt.Errorf("load provider: %w", err)
	}
	if err := subscription.CheckAccess(p, s.now()); err != nil {
		return nil, false, err
	}
	if kind == KindVideo && quota.AvailableMinutes(p) <= 0 {
		return nil, false, ErrInsufficientMinutes
	}

	r, err := s.people.GetRequester(ctx, requesterID)
	if err != nil {
		return nil, false, fmt.Errorf("load requester: %w", err)
	}
	if r.ProviderID != providerID {
		return nil, false, ErrNotParticipant
	}

	if existing, err := s.active(ctx, requesterID, providerID); err != nil || existing != nil {
		return existing, false, err
	}

	err = s.locker.WithLock(ctx, redisclient.PairKey(requesterID, providerID), func(lockCtx context.Context) error {
		existing, err := s.active(lockCtx, requesterID, providerID)
		if err != nil {
			return err
		}
		if existing != nil {
			c = existing
			return nil
		}

		c, err = s.repo.CreateConsultation(lockCtx, &Consultation{
			ID:          uuid.New(),
			RequesterID: requesterID,
			ProviderID:  providerID,
			Kind:        kind,
			Status:      StatusActive,
			StartedAt:   s.now(),
		})
		if errors.Is(err, ErrActiveExists) {
			c, err = s.repo.GetActive(lockCtx, requesterID, providerID)
			return err
		}
		if err != nil {
			return err
		}
		created = true
		return nil
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		// another request holds the pair lock and is creating the row
		existing, waitErr := s.awaitActive(ctx, requesterID, providerID)
		if waitErr != nil {
			return nil, false, waitErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("start consultation: %w", err)
	}

	if created {
		s.events.Record(ctx, c.ID, EventConsultationStarted, map[string]any{
			"provider_id":  providerID.String(),
			"requester_id": requesterID.String(),
			"kind":         kind,
		})
		s.notifier.Emit(ctx, notify.RequesterRoom(requesterID), EventConsultationStarted, c)
	}
	return c, created, nil
}

func (s *Service) awaitActive(ctx context.Context, requesterID, providerID uuid.UUID) (*Consultation, error) {
	for attempt := 0; attempt < startAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.startWait):
			}
		}
		existing, err := s.active(ctx, requesterID, providerID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}
	return nil, ErrStartInProgress
}

func (s *Service) active(ctx context.Context, requesterID, providerID uuid.UUID) (*Consultation, error) {
	c, err := s.repo.GetActive(ctx, requesterID, providerID)
	if errors.Is(err, ErrConsultationNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load active consultation: %w", err)
	}
	return c, nil
}

// End completes an ACTIVE consultation and bills video time in whole minutes,
// rounded up.
func (s *Service) End(ctx context.Context, providerID, id uuid.UUID) (*Consultation, error) {
	c, err := s.load(ctx, auth.Principal{Role: auth.RoleProvider, ID: providerID}, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusActive {
		return nil, ErrNotActive
	}

	if s.requirePayment {
		pc, err := s.repo.GetPayment(ctx, id)
		if err != nil && !errors.Is(err, ErrPaymentNotFound) {
			return nil, fmt.Errorf("load payment confirmation: %w", err)
		}
		if pc == nil || !pc.ConfirmedByDoctor {
			return nil, ErrPaymentNotConfirmed
		}
	}

	now := s.now()
	minutes := 0
	if c.Kind == KindVideo {
		minutes = BillableMinutes(c.StartedAt, now)
	}

	var bill func(q db.Querier) error
	if minutes > 0 {
		bill = func(q db.Querier) error {
			return s.usage.RecordUsage(ctx, q, providerID, minutes)
		}
	}

	done, err := s.repo.Complete(ctx, id, now, minutes, bill)
	if err != nil {
		if errors.Is(err, ErrNotActive) {
			return nil, err
		}
		log.Printf("end consultation failed consultation_id=%s provider_id=%s minutes=%d: %v", id, providerID, minutes, err)
		return nil, fmt.Errorf("complete consultation: %w", err)
	}

	s.events.Record(ctx, done.ID, EventConsultationCompleted, map[string]any{
		"minutes_billed": minutes,
	})
	s.notifier.Emit(ctx, notify.ConsultationRoom(done.ID), EventConsultationCompleted, done)
	s.notifier.Emit(ctx, notify.RequesterRoom(done.RequesterID), EventConsultationCompleted, done)
	return done, nil
}

// BillableMinutes is the elapsed time rounded up to whole minutes.
func BillableMinutes(start, end time.Time) int {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Minutes()))
}

// Get returns the consultation to one of its participants.
func (s *Service) Get(ctx context.Context, actor auth.Principal, id uuid.UUID) (*Consultation, error) {
	return s.load(ctx, actor, id)
}

func (s *Service) load(ctx context.Context, actor auth.Principal, id uuid.UUID) (*Consultation, error) {
	c, err := s.repo.GetConsultation(ctx, id)
	if err != nil {
		if errors.Is(err, ErrConsultationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load consultation: %w", err)
	}
	if !c.Participant(actor) {
		return nil, ErrNotParticipant
	}
	return c, nil
}

type VideoGrant struct {
	Token     string    `json:"token"`
	Room      string    `json:"room"`
	ExpiresAt time.Time `json:"expires_at"`
}

// VideoToken issues a join token for the consultation's video room. The
// provider's minute balance is re-checked on every join.
func (s *Service) VideoToken(ctx context.Context, actor auth.Principal, id uuid.UUID) (*VideoGrant, error) {
	c, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusActive {
		return nil, ErrNotActive
	}
	if c.Kind != KindVideo {
		return nil, ErrNotVideo
	}

	if actor.IsProvider() {
		p, err := s.people.GetProvider(ctx, actor.ID)
		if err != nil {
			return nil, fmt.Errorf("load provider: %w", err)
		}
		if quota.AvailableMinutes(p) <= 0 {
			return nil, ErrInsufficientMinutes
		}
	}

	room := c.ID.String()
	token, exp, err := s.video.IssueVideo(room, actor)
	if err != nil {
		return nil, fmt.Errorf("issue video token: %w", err)
	}
	return &VideoGrant{Token: token, Room: room, ExpiresAt: exp}, nil
}

// PostMessage appends a chat message to an ACTIVE consultation.
func (s *Service) PostMessage(ctx context.Context, actor auth.Principal, id uuid.UUID, body string) (*Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperr.Validation("message body is required")
	}
	if len(body) > maxMessageLength {
		return nil, apperr.Validation("message body is too long")
	}

	c, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusActive {
		return nil, ErrNotActive
	}

	m, err := s.repo.InsertMessage(ctx, &Message{
		ID:             uuid.New(),
		ConsultationID: c.ID,
		SenderRole:     actor.Role,
		SenderID:       actor.ID,
		Body:           body,
	})
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	s.notifier.Emit(ctx, notify.ConsultationRoom(c.ID), EventMessageCreated, m)
	if actor.IsRequester() {
		s.alertProvider(ctx, c)
	}
	return m, nil
}

func (s *Service) alertProvider(ctx context.Context, c *Consultation) {
	p, err := s.people.GetProvider(ctx, c.ProviderID)
	if err != nil {
		log.Printf("message alert skipped consultation_id=%s: %v", c.ID, err)
		return
	}
	r, err := s.people.GetRequester(ctx, c.RequesterID)
	if err != nil {
		log.Printf("message alert skipped consultation_id=%s: %v", c.ID, err)
		return
	}
	s.notifier.Mail(ctx, notify.NewMessageMail(p.Email, p.Name, r.Name))
	s.notifier.Emit(ctx, notify.ProviderRoom(p.ID), EventMessageCreated, map[string]any{
		"consultation_id": c.ID,
		"requester_name":  r.Name,
	})
}

func (s *Service) ListMessages(ctx context.Context, actor auth.Principal, id uuid.UUID, limit, offset int) ([]Message, error) {
	if _, err := s.load(ctx, actor, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50 // default
	}
	if limit > 200 {
		limit = 200 // max
	}
	if offset < 0 {
		offset = 0
	}
	msgs, err := s.repo.ListMessages(ctx, id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

type PrescriptionInput struct {
	Diagnosis    string
	Medications  []Medication
	Instructions string
}

// CreatePrescription issues the consultation's only prescription with the
// provider's next serial, then renders its PDF.
func (s *Service) CreatePrescription(ctx context.Context, providerID, id uuid.UUID, in PrescriptionInput) (*Prescription, error) {
	in.Diagnosis = strings.TrimSpace(in.Diagnosis)
	if in.Diagnosis == "" {
		return nil, apperr.Validation("diagnosis is required")
	}
	for _, m := range in.Medications {
		if strings.TrimSpace(m.Name) == "" {
			return nil, apperr.Validation("every medication needs a name")
		}
	}

	c, err := s.load(ctx, auth.Principal{Role: auth.RoleProvider, ID: providerID}, id)
	if err != nil {
		return nil, err
	}

	r, err := s.people.GetRequester(ctx, c.RequesterID)
	if err != nil {
		return nil, fmt.Errorf("load requester: %w", err)
	}
	if r.Status == provider.RequesterWaitlisted {
		return nil, ErrRequesterWaitlisted
	}

	if _, err := s.repo.GetPrescription(ctx, id); err == nil {
		return nil, ErrPrescriptionExists
	} else if !errors.Is(err, ErrPrescriptionNotFound) {
		return nil, fmt.Errorf("load prescription: %w", err)
	}

	pr, err := s.repo.CreatePrescription(ctx, &Prescription{
		ID:             uuid.New(),
		ConsultationID: id,
		ProviderID:     providerID,
		Diagnosis:      in.Diagnosis,
		Medications:    in.Medications,
		Instructions:   strings.TrimSpace(in.Instructions),
	})
	if err != nil {
		if errors.Is(err, ErrPrescriptionExists) {
			return nil, err
		}
		return nil, fmt.Errorf("create prescription: %w", err)
	}

	log.Printf("prescription issued provider_id=%s consultation_id=%s serial=%d", providerID, id, pr.Serial)
	s.events.Record(ctx, pr.ID, EventPrescriptionCreated, map[string]any{
		"consultation_id": id.String(),
		"serial":          pr.Serial,
	})

	pdf, withPDF, err := s.ensurePDF(ctx, pr, c)
	if err != nil {
		// the row stands; the PDF is rendered again on first download
		log.Printf("prescription pdf deferred prescription_id=%s: %v", pr.ID, err)
	} else {
		pr = withPDF
	}

	s.notifier.Emit(ctx, notify.RequesterRoom(c.RequesterID), EventPrescriptionCreated, map[string]any{
		"consultation_id": id,
		"serial":          pr.Serial,
	})

	if pdf != nil {
		if pc, err := s.repo.GetPayment(ctx, id); err == nil && pc.ConfirmedByDoctor {
			s.mailPrescription(ctx, c, pr, pdf)
		}
	}
	return pr, nil
}

// ensurePDF renders and stores the prescription PDF unless a path is already
// recorded, and returns the PDF bytes.
func (s *Service) ensurePDF(ctx context.Context, pr *Prescription, c *Consultation) ([]byte, *Prescription, error) {
	if pr.PDFPath != nil {
		data, err := s.files.Read(ctx, *pr.PDFPath)
		if err != nil {
			return nil, nil, fmt.Errorf("read prescription pdf: %w", err)
		}
		return data, pr, nil
	}

	p, err := s.people.GetProvider(ctx, c.ProviderID)
	if err != nil {
		return nil, nil, fmt.Errorf("load provider: %w", err)
	}
	r, err := s.people.GetRequester(ctx, c.RequesterID)
	if err != nil {
		return nil, nil, fmt.Errorf("load requester: %w", err)
	}

	label := SerialLabel(pr.Serial)
	data, err := RenderPrescription(PrescriptionDoc{
		Serial:             label,
		IssuedOn:           pr.CreatedAt.Format("02 Jan 2006"),
		ProviderName:       p.Name,
		Specialization:     p.Specialization,
		RegistrationNumber: p.RegistrationNumber,
		RequesterName:      r.Name,
		Diagnosis:          pr.Diagnosis,
		Medications:        pr.Medications,
		Instructions:       pr.Instructions,
	})
	if err != nil {
		return nil, nil, err
	}

	path, err := s.files.Save(ctx, "prescriptions/"+c.ProviderID.String(), label+".pdf", bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("store prescription pdf: %w", err)
	}

	stored, err := s.repo.SetPrescriptionPDF(ctx, pr.ID, path)
	if err != nil {
		return nil, nil, fmt.Errorf("set prescription pdf: %w", err)
	}
	if stored.PDFPath != nil && *stored.PDFPath != path {
		// lost the race to a concurrent render; serve the recorded file
		return s.ensurePDF(ctx, stored, c)
	}
	return data, stored, nil
}

func (s *Service) mailPrescription(ctx context.Context, c *Consultation, pr *Prescription, pdf []byte) {
	r, err := s.people.GetRequester(ctx, c.RequesterID)
	if err != nil || r.Email == nil {
		return
	}
	p, err := s.people.GetProvider(ctx, c.ProviderID)
	if err != nil {
		log.Printf("prescription mail skipped prescription_id=%s: %v", pr.ID, err)
		return
	}
	s.notifier.Mail(ctx, notify.PrescriptionMail(*r.Email, r.Name, p.Name, SerialLabel(pr.Serial), pdf))
}

// UploadPaymentProof records the requester's proof of payment for a
// consultation. Only one proof is accepted per consultation.
func (s *Service) UploadPaymentProof(ctx context.Context, requesterID, id uuid.UUID, amountPaise int64, filename string, body io.Reader) (*PaymentConfirmation, error) {
	if amountPaise <= 0 {
		return nil, apperr.Validation("amount must be positive")
	}

	c, err := s.load(ctx, auth.Principal{Role: auth.RoleRequester, ID: requesterID}, id)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetPayment(ctx, id); err == nil {
		return nil, ErrPaymentExists
	} else if !errors.Is(err, ErrPaymentNotFound) {
		return nil, fmt.Errorf("load payment confirmation: %w", err)
	}

	path, err := s.files.Save(ctx, "payments/"+id.String(), filename, body)
	if err != nil {
		return nil, fmt.Errorf("store payment proof: %w", err)
	}

	pc, err := s.repo.CreatePayment(ctx, &PaymentConfirmation{
		ID:             uuid.New(),
		ConsultationID: id,
		AmountPaise:    amountPaise,
		ProofPath:      path,
	})
	if err != nil {
		if rmErr := s.files.Remove(ctx, path); rmErr != nil {
			log.Printf("remove orphaned payment proof path=%s: %v", path, rmErr)
		}
		if errors.Is(err, ErrPaymentExists) {
			return nil, err
		}
		return nil, fmt.Errorf("create payment confirmation: %w", err)
	}

	s.events.Record(ctx, pc.ID, EventPaymentProofUploaded, map[string]any{
		"consultation_id": id.String(),
		"amount_paise":    amountPaise,
	})
	s.notifier.Emit(ctx, notify.ProviderRoom(c.ProviderID), EventPaymentProofUploaded, pc)
	return pc, nil
}

// ConfirmPayment marks the proof as accepted by the owning provider. It
// succeeds exactly once.
func (s *Service) ConfirmPayment(ctx context.Context, providerID, id uuid.UUID) (*PaymentConfirmation, error) {
	c, err := s.load(ctx, auth.Principal{Role: auth.RoleProvider, ID: providerID}, id)
	if err != nil {
		return nil, err
	}

	pc, err := s.repo.ConfirmPayment(ctx, id, s.now())
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) || errors.Is(err, ErrPaymentAlreadyConfirmed) {
			return nil, err
		}
		return nil, fmt.Errorf("confirm payment: %w", err)
	}

	s.events.Record(ctx, pc.ID, EventPaymentConfirmed, map[string]any{
		"consultation_id": id.String(),
	})
	s.notifier.Emit(ctx, notify.RequesterRoom(c.RequesterID), EventPaymentConfirmed, pc)

	if pr, err := s.repo.GetPrescription(ctx, id); err == nil {
		if pdf, withPDF, err := s.ensurePDF(ctx, pr, c); err == nil {
			s.mailPrescription(ctx, c, withPDF, pdf)
		} else {
			log.Printf("prescription mail skipped consultation_id=%s: %v", id, err)
		}
	}
	return pc, nil
}

// Payment returns the consultation's payment confirmation to a participant.
func (s *Service) Payment(ctx context.Context, actor auth.Principal, id uuid.UUID) (*PaymentConfirmation, error) {
	if _, err := s.load(ctx, actor, id); err != nil {
		return nil, err
	}
	pc, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load payment confirmation: %w", err)
	}
	return pc, nil
}

// DownloadPrescription returns the prescription PDF once the provider has
// confirmed payment.
func (s *Service) DownloadPrescription(ctx context.Context, actor auth.Principal, id uuid.UUID) ([]byte, *Prescription, error) {
	c, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, nil, err
	}

	pc, err := s.repo.GetPayment(ctx, id)
	if err != nil && !errors.Is(err, ErrPaymentNotFound) {
		return nil, nil, fmt.Errorf("load payment confirmation: %w", err)
	}
	if pc == nil || !pc.ConfirmedByDoctor {
		return nil, nil, ErrPaymentNotConfirmed
	}

	pr, err := s.repo.GetPrescription(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPrescriptionNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("load prescription: %w", err)
	}

	data, pr, err := s.ensurePDF(ctx, pr, c)
	if err != nil {
		return nil, nil, err
	}
	return data, pr, nil
}
