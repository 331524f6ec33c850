package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"sba-cms/pkg/logging"
	"sba-cms/pkg/metrics"
	"sba-cms/pkg/models"
)

const (
	mailTimeout = 30 * time.Second
	emptyValue  = "—"
)

type briefField struct {
	label  string
	key    string
	suffix string
}

type briefSection struct {
	title  string
	fields []briefField
}

var briefSections = []briefSection{
	{"1. STARTUP OVERVIEW", []briefField{
		{label: "Startup Name", key: "startupName"},
		{label: "One Sentence", key: "oneSentenceDesc"},
		{label: "Problem Solved", key: "problemSolved"},
		{label: "Main Offer", key: "mainOffer"},
		{label: "Comp. Difference", key: "competitorDifference"},
	}},
	{"2. TARGET AUDIENCE", []briefField{
		{label: "Primary Audience", key: "primaryAudience"},
		{label: "Target Groups", key: "targetGroups"},
		{label: "Age Range", key: "audienceAge"},
		{label: "Geo Market", key: "geoMarket"},
		{label: "Pain Point", key: "biggestPainPoint"},
	}},
	{"3. BRAND & STYLE", []briefField{
		{label: "Brand Describe", key: "brandDescribe"},
		{label: "Personality", key: "brandPersonality"},
		{label: "Visual Style", key: "visualStyle"},
		{label: "Branding Assets", key: "brandingAssets"},
		{label: "Liked Brands", key: "likedBrands"},
	}},
	{"4. GOALS & STRATEGY", []briefField{
		{label: "Primary Goal", key: "primaryGoal"},
		{label: "Main Action (CTA)", key: "mainAction"},
		{label: "Brand vs Convert", key: "conversionBrandingScale", suffix: " (1:Brand <-> 5:Sales)"},
	}},
	{"5. PAGES & FEATURES", []briefField{
		{label: "Pages Included", key: "pagesIncluded"},
		{label: "Special Features", key: "specialFeatures"},
		{label: "Languages", key: "languageCount"},
	}},
	{"6. CONTENT & ASSETS", []briefField{
		{label: "Content Status", key: "contentAvailability"},
		{label: "Help Needed", key: "helpNeeded"},
		{label: "Social Proof", key: "socialProof"},
		{label: "Important Info", key: "highlightImportant"},
	}},
	{"7. TECHNICAL DETAILS", []briefField{
		{label: "Has Domain?", key: "ownDomain"},
		{label: "New vs Redesign", key: "newOrRedesign"},
		{label: "SEO Required?", key: "seoRequired"},
		{label: "Compliance", key: "compliance"},
	}},
	{"8. RISKS & HISTORY", []briefField{
		{label: "Previous Exp", key: "agencyExperience"},
		{label: "Main Concerns", key: "mainConcern"},
		{label: "Other Concerns", key: "concernOther"},
		{label: "Avoid/Dislikes", key: "avoidNotes"},
	}},
	{"9. FUTURE PLANS", []briefField{
		{label: "Scale Expectation", key: "scaleExpectation"},
		{label: "Future Needs", key: "futureNeeds"},
	}},
	{"10. CONTACT", []briefField{
		{label: "Contact Info", key: "contactInfo"},
		{label: "Additional Notes", key: "additionalNotes"},
	}},
}

// ContactService accepts contact-form submissions, records them and notifies
// the site owner by mail without waiting for delivery.
type ContactService struct {
	log           *RequestLog
	mailer        Mailer
	validate      *validator.Validate
	adminEmail    string
	subjectPrefix string
	now           func() time.Time
	logger        zerolog.Logger
	wg            sync.WaitGroup
}

func NewContactService(log *RequestLog, mailer Mailer, adminEmail, subjectPrefix string) *ContactService {
	return &ContactService{
		log:           log,
		mailer:        mailer,
		validate:      validator.New(),
		adminEmail:    adminEmail,
		subjectPrefix: subjectPrefix,
		now:           time.Now,
		logger:        logging.With().Str("component", "contact").Logger(),
	}
}

// Submit validates raw as the given form type, records it and schedules the
// notification. Validation failures are *InputError values.
func (s *ContactService) Submit(ctx context.Context, formType string, raw []byte) error {
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil || len(fields) == 0 {
		return invalidInput("Invalid JSON input")
	}

	var (
		req models.ContactRequest
		msg Message
		err error
	)
	switch formType {
	case models.FormQuickContact:
		req, msg, err = s.quickContact(raw)
	case models.FormProjectBrief:
		req, msg, err = s.projectBrief(raw, fields)
	default:
		return invalidInput("Invalid request type")
	}
	if err != nil {
		metrics.ContactSubmissions.WithLabelValues(formType, "invalid").Inc()
		return err
	}

	req.CreatedAt = s.now().UTC()
	if err := s.log.Append(ctx, req); err != nil {
		metrics.ContactSubmissions.WithLabelValues(formType, "error").Inc()
		return err
	}

	metrics.ContactSubmissions.WithLabelValues(formType, "accepted").Inc()
	s.logger.Info().Str("type", req.Type).Str("name", req.Name).Msg("contact request recorded")

	s.dispatch(msg)
	return nil
}

func (s *ContactService) quickContact(raw []byte) (models.ContactRequest, Message, error) {
	var in models.QuickContact
	if err := json.Unmarshal(raw, &in); err != nil {
		return models.ContactRequest{}, Message{}, invalidInput("Invalid input data")
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Message = strings.TrimSpace(in.Message)
	if err := s.validate.Struct(in); err != nil {
		return models.ContactRequest{}, Message{}, invalidInput("Invalid input data")
	}

	data, err := json.Marshal(map[string]string{"message": in.Message})
	if err != nil {
		return models.ContactRequest{}, Message{}, fmt.Errorf("encoding message: %w", err)
	}

	req := models.ContactRequest{
		Type:  models.RequestTypeQuick,
		Name:  in.Name,
		Email: in.Email,
		Data:  data,
	}
	msg := Message{
		To:      s.adminEmail,
		ReplyTo: in.Email,
		Subject: s.subjectPrefix + "Quick Contact: " + in.Name,
		Body: fmt.Sprintf("New Quick Contact Request:\n\nName: %s\nEmail: %s\nMessage: %s",
			in.Name, in.Email, in.Message),
	}
	return req, msg, nil
}

func (s *ContactService) projectBrief(raw []byte, fields map[string]interface{}) (models.ContactRequest, Message, error) {
	var in models.ProjectBrief
	if err := json.Unmarshal(raw, &in); err != nil {
		return models.ContactRequest{}, Message{}, invalidInput("Startup name and contact info are required")
	}
	in.StartupName = strings.TrimSpace(in.StartupName)
	in.ContactInfo = strings.TrimSpace(in.ContactInfo)
	if err := s.validate.Struct(in); err != nil {
		return models.ContactRequest{}, Message{}, invalidInput("Startup name and contact info are required")
	}

	var data bytes.Buffer
	if err := json.Compact(&data, raw); err != nil {
		return models.ContactRequest{}, Message{}, invalidInput("Invalid JSON input")
	}

	req := models.ContactRequest{
		Type:  models.RequestTypeBrief,
		Name:  in.StartupName,
		Email: in.ContactInfo,
		Data:  data.Bytes(),
	}
	msg := Message{
		To:      s.adminEmail,
		Subject: s.subjectPrefix + "Project Brief: " + in.StartupName,
		Body:    formatBrief(fields),
	}
	if s.validate.Var(in.ContactInfo, "email") == nil {
		msg.ReplyTo = in.ContactInfo
	}
	return req, msg, nil
}

func formatBrief(fields map[string]interface{}) string {
	var b strings.Builder
	b.WriteString("NEW PROJECT BRIEF RECEIVED\n")
	b.WriteString("================================\n\n")

	for _, section := range briefSections {
		b.WriteString(section.title + "\n")
		b.WriteString("--------------------------------\n")
		for _, f := range section.fields {
			fmt.Fprintf(&b, "%-19s%s%s\n", f.label+":", briefValue(fields[f.key]), f.suffix)
		}
		b.WriteString("\n")
	}

	b.WriteString("================================\n")
	b.WriteString("END OF BRIEF\n")
	return b.String()
}

// briefValue renders a submitted value: lists are comma-joined and missing or
// empty values show as a dash.
func briefValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return emptyValue
	case string:
		if val == "" {
			return emptyValue
		}
		return val
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(val)
	}
}

func (s *ContactService) dispatch(msg Message) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), mailTimeout)
		defer cancel()

		if err := s.mailer.Send(ctx, msg); err != nil {
			metrics.MailDeliveries.WithLabelValues("failed").Inc()
			s.logger.Error().Err(err).Str("subject", msg.Subject).Msg("notification mail failed")
			return
		}
		metrics.MailDeliveries.WithLabelValues("sent").Inc()
	}()
}

// Wait blocks until every scheduled notification has finished.
func (s *ContactService) Wait() {
	s.wg.Wait()
}
