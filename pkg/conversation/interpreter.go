package conversation

import (
	"context"
	"regexp"
	"strings"

	"github.com/Saidelocha/lepitch-funnel/pkg/patterns"
	"github.com/Saidelocha/lepitch-funnel/pkg/session"
)

// HeuristicInterpreter is the built-in rule-based interpreter: keyword
// extraction plus a staged reply script (FR first, EN fallbacks). It keeps
// the funnel fully operational without an external NLU service; an
// LLM-backed implementation can replace it behind the same interface.
type HeuristicInterpreter struct{}

// NewHeuristicInterpreter returns the rule-based interpreter.
func NewHeuristicInterpreter() *HeuristicInterpreter {
	return &HeuristicInterpreter{}
}

var (
	reEmail    = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	rePhone    = regexp.MustCompile(`(\+?\d[\d .-]{8,}\d)`)
	reHours    = regexp.MustCompile(`(?i)\b(\d{1,2})\s*h(eures?)?\b`)
	reDuration = regexp.MustCompile(`(?i)\b\d+\s*(jours?|semaines?|mois|ans?|days?|weeks?|months?|years?)\b`)
	reName     = regexp.MustCompile(`(?i)\b(je\s+m'appelle|je\s+suis|moi\s+c'est|my\s+name\s+is|i\s+am|i'm)\s+([A-ZÀ-Ý][\wà-ÿ-]+(\s+[A-ZÀ-Ý][\wà-ÿ-]+)?)`)
)

var urgentKeywords = []string{
	"urgent", "urgence", "au plus vite", "asap", "immédiat", "immediat",
	"tout de suite", "rapidement", "dès que possible", "right away",
}

var relaxedKeywords = []string{
	"pas pressé", "pas presse", "pas urgent", "no rush", "quand je peux",
	"plus tard", "un jour", "someday",
}

var consentYes = []string{
	"oui", "ok", "d'accord", "daccord", "bien sûr", "bien sur", "volontiers",
	"yes", "sure", "go ahead", "allez-y", "allez y", "je veux bien",
}

var timelineNow = []string{
	"maintenant", "immédiatement", "immediatement", "cette semaine",
	"ce mois", "now", "this week", "this month",
}

// Interpret runs the extraction rules against the new message and constructs
// the next scripted reply from whichever goal is still open.
func (h *HeuristicInterpreter) Interpret(_ context.Context, snap session.Snapshot, text string) (*Outcome, error) {
	out := &Outcome{}
	lower := strings.ToLower(text)

	// Repeated abuse closes the conversation; a single slip only colors the
	// reply. The closing reply deliberately uses a known closure phrase so
	// the downstream ban lands in the short tier.
	if patterns.Get().MatchAny(text, patterns.CategoryAbusivePhrase) != nil {
		if hasPriorAbusiveMessage(snap) {
			out.Close = true
			out.CloseReason = "repeated inappropriate messages"
			out.Reply = "Je dois mettre un terme à cette conversation en raison d'un comportement inapproprié. À bientôt dans de meilleures conditions."
			return out, nil
		}
		out.Reply = "Je comprends la frustration, mais restons constructifs. Parlez-moi plutôt de votre projet."
		return out, nil
	}

	h.extract(snap, text, lower, out)

	merged := snap.Goals
	merged.Merge(out.Goals)

	collected := snap.Collected
	collected.Merge(out.Fields)

	// Ask consent once discovery is done; trigger the form once the visitor
	// agrees (or volunteers contact details outright).
	switch {
	case snap.ConsentRequested && !snap.FormTriggered &&
		(matchesAny(lower, consentYes) || out.Fields.ContactInfo != ""):
		out.TriggerForm = true
	case !snap.ConsentRequested && merged.DiscoveryDone():
		out.RequestConsent = true
	}

	out.Reply = h.reply(merged, collected, out)
	return out, nil
}

// extract fills fields and goals from one message.
func (h *HeuristicInterpreter) extract(snap session.Snapshot, text, lower string, out *Outcome) {
	// Need: the first substantive free-text answer is taken as the stated
	// need; later long answers refine it.
	if !snap.Goals.UnderstandNeed && len(strings.Fields(text)) >= 4 {
		out.Fields.Need = strings.TrimSpace(text)
		out.Goals.UnderstandNeed = true
	}

	if matchesAny(lower, urgentKeywords) {
		out.Fields.Urgency = "urgent"
		out.Goals.AssessUrgency = true
	} else if matchesAny(lower, relaxedKeywords) {
		out.Fields.Urgency = "low"
		out.Goals.AssessUrgency = true
	}

	if m := reDuration.FindString(text); m != "" {
		out.Fields.Timeline = strings.ToLower(m)
		out.Goals.GetTimeline = true
	} else if matchesAny(lower, timelineNow) {
		out.Fields.Timeline = "immédiat"
		out.Goals.GetTimeline = true
	}

	if m := reHours.FindStringSubmatch(text); m != nil {
		out.Fields.Commitment = strings.ToLower(m[1]) + "h"
		out.Goals.UnderstandCommitment = true
	}

	if m := reName.FindStringSubmatch(text); m != nil {
		out.Fields.Name = strings.TrimSpace(m[2])
		out.Goals.CollectIdentity = true
	}

	if m := reEmail.FindString(text); m != "" {
		out.Fields.ContactInfo = m
		out.Fields.ContactPreference = "email"
		out.Goals.GetContact = true
	} else if m := rePhone.FindString(text); m != "" {
		out.Fields.ContactInfo = strings.TrimSpace(m)
		out.Fields.ContactPreference = "phone"
		out.Goals.GetContact = true
	}
}

// reply picks the next scripted question from the first open goal.
func (h *HeuristicInterpreter) reply(goals session.Goals, collected session.CollectedInfo, out *Outcome) string {
	switch {
	case out.TriggerForm:
		return "Parfait ! Il ne reste qu'un court formulaire pour finaliser votre demande — vos coordonnées exactes et c'est tout."
	case out.RequestConsent:
		return "Merci, j'y vois beaucoup plus clair. Êtes-vous d'accord pour me laisser vos coordonnées afin qu'on vous recontacte ?"
	case !goals.UnderstandNeed:
		return "Pouvez-vous m'en dire un peu plus sur votre projet et ce que vous cherchez à accomplir ?"
	case !goals.AssessUrgency:
		return "C'est noté. Est-ce un besoin urgent, ou plutôt un projet de fond ?"
	case !goals.GetTimeline:
		return "Très bien. Sur quel horizon aimeriez-vous démarrer — quelques semaines, quelques mois ?"
	case !goals.UnderstandCommitment:
		return "Combien d'heures par semaine pourriez-vous y consacrer ?"
	case collected.ContactInfo == "":
		return "Super. Quel est le meilleur moyen de vous joindre, email ou téléphone ?"
	default:
		return "Merci pour toutes ces précisions, je transmets tout cela à l'équipe."
	}
}

// hasPriorAbusiveMessage scans older user messages for an abusive match.
func hasPriorAbusiveMessage(snap session.Snapshot) bool {
	reg := patterns.Get()
	for _, m := range snap.Messages {
		if m.IsBot {
			continue
		}
		if reg.MatchAny(m.Text, patterns.CategoryAbusivePhrase) != nil {
			return true
		}
	}
	return false
}

func matchesAny(lower string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

var _ Interpreter = (*HeuristicInterpreter)(nil)
