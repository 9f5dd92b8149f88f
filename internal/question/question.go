// Package question holds the exam question model and the per-page structure the
// model is asked to return.
package question

// Step is one line of a worked solution.
type Step struct {
	Explanation string `json:"explanation"`
	Output      string `json:"output"`
}

// Solution wraps the ordered steps of a worked answer.
type Solution struct {
	Steps []Step `json:"steps"`
}

// Question is one extracted exam question. Values are never mutated after
// construction.
type Question struct {
	ID             string   `json:"id"`
	Question       string   `json:"question"`
	Passage        *string  `json:"passage"`
	Assertion      *string  `json:"assertion"`
	Reason         *string  `json:"reason"`
	Choices        []string `json:"choices"`
	Solution       Solution `json:"solution"`
	FinalAnswer    string   `json:"final_answer"`
	Topic          *string  `json:"topic"`
	SubTopic       *string  `json:"sub_topic"`
	QuestionType   *string  `json:"question_type"`
	AllocatedMarks *int     `json:"allocated_marks"`
	ReferenceExam  *string  `json:"reference_exam"`
}

// RawQuestion is a question exactly as the model returns it: four discrete
// choice fields and a flat list of solution steps.
type RawQuestion struct {
	ID             string `json:"id"`
	Question       string `json:"question"`
	Assertion      string `json:"assertion"`
	Reason         string `json:"reason"`
	Passage        string `json:"passage"`
	A              string `json:"a"`
	B              string `json:"b"`
	C              string `json:"c"`
	D              string `json:"d"`
	FinalAnswer    string `json:"final_answer"`
	Solution       []Step `json:"solution"`
	Topic          string `json:"topic"`
	SubTopic       string `json:"sub_topic"`
	QuestionType   string `json:"question_type"`
	AllocatedMarks int    `json:"allocated_marks"`
	ReferenceExam  string `json:"reference_exam"`
}

// Page is the structured response for a single page image.
type Page struct {
	Questions []RawQuestion `json:"questions"`
}

// FromRaw flattens the choice fields into Choices and wraps the solution steps.
func FromRaw(r RawQuestion) Question {
	steps := make([]Step, len(r.Solution))
	copy(steps, r.Solution)
	return Question{
		ID:             r.ID,
		Question:       r.Question,
		Passage:        ptr(r.Passage),
		Assertion:      ptr(r.Assertion),
		Reason:         ptr(r.Reason),
		Choices:        []string{r.A, r.B, r.C, r.D},
		Solution:       Solution{Steps: steps},
		FinalAnswer:    r.FinalAnswer,
		Topic:          ptr(r.Topic),
		SubTopic:       ptr(r.SubTopic),
		QuestionType:   ptr(r.QuestionType),
		AllocatedMarks: ptr(r.AllocatedMarks),
		ReferenceExam:  ptr(r.ReferenceExam),
	}
}

// FromPage maps every raw question of the page, preserving order.
func FromPage(p Page) []Question {
	out := make([]Question, 0, len(p.Questions))
	for _, r := range p.Questions {
		out = append(out, FromRaw(r))
	}
	return out
}

func ptr[T any](v T) *T { return &v }

// Clone returns a deep copy so the result shares no memory with q.
func (q Question) Clone() Question {
	c := q
	c.Passage = clonePtr(q.Passage)
	c.Assertion = clonePtr(q.Assertion)
	c.Reason = clonePtr(q.Reason)
	c.Topic = clonePtr(q.Topic)
	c.SubTopic = clonePtr(q.SubTopic)
	c.QuestionType = clonePtr(q.QuestionType)
	c.AllocatedMarks = clonePtr(q.AllocatedMarks)
	c.ReferenceExam = clonePtr(q.ReferenceExam)
	if q.Choices != nil {
		c.Choices = append([]string(nil), q.Choices...)
	}
	if q.Solution.Steps != nil {
		c.Solution.Steps = append([]Step(nil), q.Solution.Steps...)
	}
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
