package services

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

type QuestionCategory string

const (
	CategoryUniversity QuestionCategory = "university_program"
	CategoryBackground QuestionCategory = "background"
	CategoryAcademics  QuestionCategory = "academics"
	CategoryFinances   QuestionCategory = "finances"
	CategoryCareer     QuestionCategory = "career_plans"
	CategoryHomeTies   QuestionCategory = "home_ties"
	CategoryCompliance QuestionCategory = "compliance"
	CategoryLogistics  QuestionCategory = "logistics"
)

// Question is one interview prompt. Sensitive questions are only asked once
// the candidate has brought the topic up themselves.
type Question struct {
	ID        string           `json:"id"`
	Text      string           `json:"text"`
	Category  QuestionCategory `json:"category"`
	Sensitive bool             `json:"sensitive"`
}

// FixedSequence opens every interview, in this order.
var FixedSequence = []Question{
	{ID: "which-university", Text: "Which university are you going to in the U.S.?", Category: CategoryUniversity},
	{ID: "why-this-university", Text: "Why did you choose this university?", Category: CategoryUniversity},
	{ID: "why-this-program", Text: "Why this program?", Category: CategoryUniversity},
	{ID: "funding-source", Text: "Who is funding your education?", Category: CategoryFinances},
	{ID: "tuition-breakdown", Text: "What is your estimated tuition and living cost?", Category: CategoryFinances},
}

// RandomPool is drawn from once the fixed sequence is exhausted.
var RandomPool = []Question{
	{ID: "how-did-you-choose", Text: "How did you shortlist your universities?", Category: CategoryUniversity},
	{ID: "alternatives-admits", Text: "Which other universities did you apply to or get admits from?", Category: CategoryUniversity},
	{ID: "fit-vs-other-admit", Text: "Why did you choose this admit over your other admits?", Category: CategoryUniversity},
	{ID: "program-deliverables", Text: "What are the key deliverables or outcomes from your program?", Category: CategoryUniversity},
	{ID: "faculty-alignment", Text: "Which faculty or labs align with your interests?", Category: CategoryUniversity},
	{ID: "deferral-question", Text: "If the start term is deferred, what will you do?", Category: CategoryUniversity},
	{ID: "online-vs-oncampus", Text: "Why on-campus instead of an online program?", Category: CategoryUniversity},

	{ID: "why-usa", Text: "Why do you want to study in the USA?", Category: CategoryBackground},
	{ID: "why-now", Text: "Why are you pursuing this degree now?", Category: CategoryBackground},
	{ID: "family-in-usa", Text: "Do you have relatives in the U.S.?", Category: CategoryBackground},
	{ID: "work-experience-relevance", Text: "How does your work experience relate to this program?", Category: CategoryBackground},
	{ID: "field-switch", Text: "You're switching fields. Why is this credible?", Category: CategoryBackground},
	{ID: "break-between-studies", Text: "What did you do during your gap/break?", Category: CategoryBackground},
	{ID: "influenced-by-someone", Text: "Who influenced your decision to pursue this degree?", Category: CategoryBackground},

	{ID: "academic-background", Text: "Tell me about your academic background.", Category: CategoryAcademics},
	{ID: "backlogs-gaps", Text: "Why do you have backlogs or a gap?", Category: CategoryAcademics, Sensitive: true},
	{ID: "low-gpa", Text: "Your GPA seems low. Why?", Category: CategoryAcademics, Sensitive: true},
	{ID: "english-prep", Text: "How did you prepare for English proficiency?", Category: CategoryAcademics},
	{ID: "research-experience", Text: "Do you have research experience?", Category: CategoryAcademics},
	{ID: "standardized-test-low", Text: "Your standardized test score is low. How will you cope?", Category: CategoryAcademics},
	{ID: "waiver-awareness", Text: "Was your GRE/English test waived? Why?", Category: CategoryAcademics},
	{ID: "project-highlight", Text: "Describe a key academic project and your role.", Category: CategoryAcademics},
	{ID: "academic-honesty", Text: "How do you ensure academic integrity?", Category: CategoryAcademics},

	{ID: "living-expenses", Text: "How will you manage your living expenses?", Category: CategoryFinances},
	{ID: "scholarship-ga-ra", Text: "Do you have any scholarship or assistantship?", Category: CategoryFinances},
	{ID: "education-loan", Text: "Are you taking an education loan?", Category: CategoryFinances},
	{ID: "proof-of-funds-specifics", Text: "Can you explain your proof of funds?", Category: CategoryFinances},
	{ID: "sponsor-occupation", Text: "What is your sponsor's occupation and income source?", Category: CategoryFinances},
	{ID: "multiple-sponsors", Text: "You have multiple sponsors. Why?", Category: CategoryFinances},
	{ID: "recent-large-deposits", Text: "Explain the recent large deposits in your account.", Category: CategoryFinances, Sensitive: true},
	{ID: "part-time-dependence", Text: "Are you relying on part-time work for tuition?", Category: CategoryFinances},
	{ID: "currency-risk", Text: "How will you handle exchange rate fluctuations?", Category: CategoryFinances},

	{ID: "career-plan-short", Text: "What are your short-term career plans after graduation?", Category: CategoryCareer},
	{ID: "career-plan-long", Text: "What are your long-term plans?", Category: CategoryCareer},
	{ID: "return-to-home", Text: "Will you return to your home country?", Category: CategoryCareer},
	{ID: "how-program-helps", Text: "How will this program help your career?", Category: CategoryCareer},
	{ID: "preferred-role", Text: "Which exact roles are you targeting after graduation?", Category: CategoryCareer},
	{ID: "internship-plan", Text: "What's your plan for internships?", Category: CategoryCareer},
	{ID: "salary-expectation", Text: "What salary do you expect after graduation?", Category: CategoryCareer},
	{ID: "startup-vs-enterprise", Text: "Startup or large company: what do you prefer?", Category: CategoryCareer},
	{ID: "home-country-market", Text: "How will you use these skills in your home country?", Category: CategoryCareer},

	{ID: "home-ties", Text: "What ties do you have to your home country?", Category: CategoryHomeTies},
	{ID: "property-family", Text: "Do you or your family own property or businesses?", Category: CategoryHomeTies},
	{ID: "marital-status", Text: "What is your marital status?", Category: CategoryHomeTies},
	{ID: "family-dependents", Text: "Do your family members depend on you?", Category: CategoryHomeTies},
	{ID: "community-connections", Text: "What community connections do you have?", Category: CategoryHomeTies},
	{ID: "long-term-location", Text: "Where do you see yourself living long-term?", Category: CategoryHomeTies},

	{ID: "visa-history", Text: "Have you ever been refused a visa?", Category: CategoryCompliance, Sensitive: true},
	{ID: "travel-history", Text: "What is your travel history?", Category: CategoryCompliance},
	{ID: "sevis-i20-awareness", Text: "What do you understand about SEVIS and the I-20?", Category: CategoryCompliance},
	{ID: "cpt-awareness", Text: "What is CPT and when can you use it?", Category: CategoryCompliance},
	{ID: "opt-awareness", Text: "What is OPT and what are its limits?", Category: CategoryCompliance},
	{ID: "status-maintenance", Text: "How will you maintain your F-1 status?", Category: CategoryCompliance},
	{ID: "transfer-schools", Text: "Will you transfer to another school?", Category: CategoryCompliance},
	{ID: "dependent-visa", Text: "Will any dependents accompany you?", Category: CategoryCompliance},

	{ID: "housing-logistics", Text: "Where will you stay in the U.S.?", Category: CategoryLogistics},
	{ID: "start-date-readiness", Text: "When does your program start and are you prepared?", Category: CategoryLogistics},
	{ID: "campus-location", Text: "Where is your university located?", Category: CategoryLogistics},
	{ID: "part-time-work", Text: "Do you plan to work part-time?", Category: CategoryLogistics},
	{ID: "flight-plan", Text: "When do you plan to travel to the U.S.?", Category: CategoryLogistics},
	{ID: "packing-priorities", Text: "What are your packing priorities?", Category: CategoryLogistics},
	{ID: "health-insurance", Text: "What about health insurance?", Category: CategoryLogistics},
	{ID: "transport-commute", Text: "How will you commute to campus?", Category: CategoryLogistics},
	{ID: "orientation-tasks", Text: "Which initial tasks will you complete on arrival?", Category: CategoryLogistics},
	{ID: "weather-readiness", Text: "Are you prepared for the local weather?", Category: CategoryLogistics},
	{ID: "emergency-plan", Text: "What is your emergency plan in the U.S.?", Category: CategoryLogistics},
}

// sensitiveSignals maps a sensitive question to the answer keywords that
// make it fair to ask.
var sensitiveSignals = map[string][]string{
	"low-gpa":               {"gpa", "grade", "cgpa", "percentage"},
	"backlogs-gaps":         {"backlog", "arrear", "supple", "gap"},
	"recent-large-deposits": {"deposit", "bank statement", "fixed", "loan"},
	"visa-history":          {"refused", "rejected", "221g", "denied"},
}

// QuestionBank selects interview questions. It is safe for concurrent use.
type QuestionBank struct {
	fixed []Question
	pool  []Question

	mu  sync.Mutex
	rng *rand.Rand
}

// NewQuestionBank returns a bank over the default catalogue. A nil rng is
// replaced by a time-seeded source.
func NewQuestionBank(rng *rand.Rand) *QuestionBank {
	return NewQuestionBankWith(FixedSequence, RandomPool, rng)
}

func NewQuestionBankWith(fixed, pool []Question, rng *rand.Rand) *QuestionBank {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return &QuestionBank{fixed: fixed, pool: pool, rng: rng}
}

// FixedLen is the number of questions in the opening sequence.
func (b *QuestionBank) FixedLen() int {
	return len(b.fixed)
}

// NextFixedQuestion returns the fixed question for a 1-based turn index, or
// nil once the sequence is exhausted.
func (b *QuestionBank) NextFixedQuestion(turnIndex int) *Question {
	if turnIndex < 1 || turnIndex > len(b.fixed) {
		return nil
	}
	q := b.fixed[turnIndex-1]
	return &q
}

// PickRandomQuestion draws uniformly from the pool questions not yet asked.
// A sensitive draw is accepted only when priorAnswers mention one of its
// signal keywords. Sampling stops after as many draws as there are
// candidates, so nil means either the pool is exhausted or no eligible
// question turned up.
func (b *QuestionBank) PickRandomQuestion(asked map[string]bool, priorAnswers []string) *Question {
	candidates := make([]Question, 0, len(b.pool))
	for _, q := range b.pool {
		if !asked[q.ID] {
			candidates = append(candidates, q)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	haystack := strings.ToLower(strings.Join(priorAnswers, " "))

	b.mu.Lock()
	defer b.mu.Unlock()
	for range len(candidates) {
		q := candidates[b.rng.IntN(len(candidates))]
		if !q.Sensitive || hasSignal(haystack, q.ID) {
			return &q
		}
	}
	return nil
}

func hasSignal(haystack, questionID string) bool {
	for _, keyword := range sensitiveSignals[questionID] {
		if strings.Contains(haystack, keyword) {
			return true
		}
	}
	return false
}
