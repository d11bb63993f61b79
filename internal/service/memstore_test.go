package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/noah-isme/student-results-api/internal/models"
)

var (
	errUniqueViolation  = &pq.Error{Code: "23505", Constraint: "marks_student_subject_exam_key"}
	errStudentCodeTaken = &pq.Error{Code: "23505", Constraint: "students_code_key"}
)

// memStore backs the in-memory student, subject and mark repositories used by service tests.
type memStore struct {
	mu       sync.Mutex
	students map[string]*models.Student
	subjects map[string]*models.Subject
	marks    []*models.Mark
	seq      int

	listMarksErr        error
	updateSumErr        error
	beforeCAS           func()
	beforeStudentCreate func(student *models.Student)
	casCalls            int
	syncStates          []models.SyncState
	deptLookups         int
	byIDLookups         [][]string
}

func newMemStore() *memStore {
	return &memStore{students: map[string]*models.Student{}, subjects: map[string]*models.Subject{}}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) addStudent(id, department string) *models.Student {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &models.Student{ID: id, Code: strings.ToUpper(id), Name: id, Department: department, CurrentTerm: 1, StudentSummary: models.DefaultSummary()}
	m.students[id] = st
	return st
}

func (m *memStore) addSubject(id, department string, credits, term int) *models.Subject {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := &models.Subject{ID: id, Code: strings.ToUpper(id), Name: id, Department: department, Term: term, Credits: credits,
		FullMarks: 100, PassMarks: 40, Type: models.SubjectTypeTheory}
	m.subjects[id] = sub
	return sub
}

func (m *memStore) addMark(studentID, subjectID string, raw float64) *models.Mark {
	m.mu.Lock()
	defer m.mu.Unlock()
	mark := &models.Mark{ID: m.nextID("mark"), StudentID: studentID, SubjectID: subjectID, ExamType: models.ExamTypeFinal, RawScore: raw}
	m.marks = append(m.marks, mark)
	return mark
}

func (m *memStore) student(id string) models.Student {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.students[id]
}

type memStudents struct{ *memStore }

func (r memStudents) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Student
	for _, st := range r.students {
		if filter.Department != "" && st.Department != strings.ToUpper(filter.Department) {
			continue
		}
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, len(out), nil
}

func (r memStudents) FindByID(ctx context.Context, id string) (*models.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *st
	return &clone, nil
}

func (r memStudents) ExistsByCode(ctx context.Context, code string, excludeID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.students {
		if st.ID != excludeID && strings.EqualFold(st.Code, code) {
			return true, nil
		}
	}
	return false, nil
}

func (r memStudents) MaxCodeSequence(ctx context.Context, prefix string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	max := 0
	for _, st := range r.students {
		if !strings.HasPrefix(st.Code, prefix) {
			continue
		}
		if seq, err := strconv.Atoi(strings.TrimPrefix(st.Code, prefix)); err == nil && seq > max {
			max = seq
		}
	}
	return max, nil
}

func (r memStudents) Create(ctx context.Context, student *models.Student) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.beforeStudentCreate != nil {
		r.beforeStudentCreate(student)
	}
	for _, st := range r.students {
		if strings.EqualFold(st.Code, student.Code) {
			return errStudentCodeTaken
		}
	}
	if student.ID == "" {
		student.ID = r.nextID("student")
	}
	clone := *student
	r.students[student.ID] = &clone
	return nil
}

func (r memStudents) UpdateProfile(ctx context.Context, student *models.Student) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.students[student.ID]
	if !ok {
		return sql.ErrNoRows
	}
	summary := existing.StudentSummary
	clone := *student
	clone.StudentSummary = summary
	r.students[student.ID] = &clone
	return nil
}

func (r memStudents) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.students[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.students, id)
	kept := r.marks[:0]
	for _, mark := range r.marks {
		if mark.StudentID != id {
			kept = append(kept, mark)
		}
	}
	r.marks = kept
	return nil
}

func (r memStudents) MarkStale(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.students[id]
	if !ok {
		return sql.ErrNoRows
	}
	st.SyncState = models.SyncStateStale
	st.SummaryVersion++
	return nil
}

func (r memStudents) SetSyncState(ctx context.Context, id string, state models.SyncState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncStates = append(r.syncStates, state)
	if st, ok := r.students[id]; ok {
		st.SyncState = state
	}
	return nil
}

func (r memStudents) UpdateSummary(ctx context.Context, id string, expectedVersion int64, summary models.StudentSummary) (bool, error) {
	if r.beforeCAS != nil {
		r.beforeCAS()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.casCalls++
	if r.updateSumErr != nil {
		return false, r.updateSumErr
	}
	st, ok := r.students[id]
	if !ok || st.SummaryVersion != expectedVersion {
		return false, nil
	}
	summary.SummaryVersion = expectedVersion + 1
	st.StudentSummary = summary
	return true, nil
}

func (r memStudents) DepartmentStatistics(ctx context.Context, department string, top int) (*models.DepartmentStatistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &models.DepartmentStatistics{Department: department, TermCounts: map[int]int{}}
	for _, st := range r.students {
		if st.Department != department {
			continue
		}
		stats.TotalStudents++
		stats.TermCounts[st.CurrentTerm]++
	}
	return stats, nil
}

type memSubjects struct{ *memStore }

func (r memSubjects) List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subject
	for _, sub := range r.subjects {
		out = append(out, *sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, len(out), nil
}

func (r memSubjects) FindByID(ctx context.Context, id string) (*models.Subject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subjects[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *sub
	return &clone, nil
}

func (r memSubjects) FindByIDs(ctx context.Context, ids []string) ([]models.Subject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byIDLookups = append(r.byIDLookups, append([]string(nil), ids...))
	var out []models.Subject
	for _, id := range ids {
		if sub, ok := r.subjects[id]; ok {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (r memSubjects) ListByDepartment(ctx context.Context, department string) ([]models.Subject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deptLookups++
	var out []models.Subject
	for _, sub := range r.subjects {
		if sub.Department == department || sub.Department == models.DepartmentCommon {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (r memSubjects) ExistsByCode(ctx context.Context, code string, excludeID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subjects {
		if sub.ID != excludeID && strings.EqualFold(sub.Code, code) {
			return true, nil
		}
	}
	return false, nil
}

func (r memSubjects) Create(ctx context.Context, subject *models.Subject) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subject.ID == "" {
		subject.ID = r.nextID("subject")
	}
	clone := *subject
	r.subjects[subject.ID] = &clone
	return nil
}

func (r memSubjects) Update(ctx context.Context, subject *models.Subject) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subjects[subject.ID]; !ok {
		return sql.ErrNoRows
	}
	clone := *subject
	r.subjects[subject.ID] = &clone
	return nil
}

func (r memSubjects) Delete(ctx context.Context, id string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subjects[id]; !ok {
		return nil, sql.ErrNoRows
	}
	delete(r.subjects, id)
	affected := map[string]struct{}{}
	kept := r.marks[:0]
	for _, mark := range r.marks {
		if mark.SubjectID == id {
			affected[mark.StudentID] = struct{}{}
			continue
		}
		kept = append(kept, mark)
	}
	r.marks = kept
	ids := make([]string, 0, len(affected))
	for sid := range affected {
		ids = append(ids, sid)
	}
	sort.Strings(ids)
	return ids, nil
}

// removeSubjectOnly drops a subject behind the service's back, leaving its marks orphaned.
func (m *memStore) removeSubjectOnly(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subjects, id)
}

type memMarks struct{ *memStore }

func (r memMarks) decorate(mark models.Mark) models.Mark {
	if sub, ok := r.subjects[mark.SubjectID]; ok {
		mark.SubjectCode = sub.Code
		mark.SubjectName = sub.Name
	}
	return mark
}

func (r memMarks) ListByStudent(ctx context.Context, studentID string) ([]models.Mark, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listMarksErr != nil {
		return nil, r.listMarksErr
	}
	var out []models.Mark
	for _, mark := range r.marks {
		if mark.StudentID == studentID {
			out = append(out, r.decorate(*mark))
		}
	}
	return out, nil
}

func (r memMarks) List(ctx context.Context, filter models.MarkFilter) ([]models.Mark, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Mark
	for _, mark := range r.marks {
		if filter.StudentID != "" && mark.StudentID != filter.StudentID {
			continue
		}
		if filter.SubjectID != "" && mark.SubjectID != filter.SubjectID {
			continue
		}
		if filter.ExamType != "" && mark.ExamType != filter.ExamType {
			continue
		}
		out = append(out, r.decorate(*mark))
	}
	return out, nil
}

func (r memMarks) FindByID(ctx context.Context, id string) (*models.Mark, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, mark := range r.marks {
		if mark.ID == id {
			clone := r.decorate(*mark)
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r memMarks) FindByKey(ctx context.Context, studentID, subjectID string, examType models.ExamType) (*models.Mark, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, mark := range r.marks {
		if mark.StudentID == studentID && mark.SubjectID == subjectID && mark.ExamType == examType {
			clone := *mark
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r memMarks) Create(ctx context.Context, mark *models.Mark) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.marks {
		if existing.StudentID == mark.StudentID && existing.SubjectID == mark.SubjectID && existing.ExamType == mark.ExamType {
			return errUniqueViolation
		}
	}
	if mark.ID == "" {
		mark.ID = r.nextID("mark")
	}
	if mark.CreatedAt.IsZero() {
		mark.CreatedAt = time.Now()
	}
	clone := *mark
	r.marks = append(r.marks, &clone)
	return nil
}

func (r memMarks) Update(ctx context.Context, mark *models.Mark) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.marks {
		if existing.ID == mark.ID {
			clone := *mark
			r.marks[i] = &clone
			return nil
		}
	}
	return sql.ErrNoRows
}

func (r memMarks) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.marks {
		if existing.ID == id {
			r.marks = append(r.marks[:i], r.marks[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (r memMarks) StudentIDsBySubject(ctx context.Context, subjectID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]struct{}{}
	var ids []string
	for _, mark := range r.marks {
		if mark.SubjectID != subjectID {
			continue
		}
		if _, ok := seen[mark.StudentID]; ok {
			continue
		}
		seen[mark.StudentID] = struct{}{}
		ids = append(ids, mark.StudentID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r memMarks) MaxRawScoreBySubject(ctx context.Context, subjectID string) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	max := 0.0
	for _, mark := range r.marks {
		if mark.SubjectID == subjectID && mark.RawScore > max {
			max = mark.RawScore
		}
	}
	return max, nil
}

func (r memMarks) SubjectStatistics(ctx context.Context, subjectID string, examType models.ExamType) (*models.SubjectMarkStatistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &models.SubjectMarkStatistics{SubjectID: subjectID, ExamType: string(examType)}
	total := 0.0
	for _, mark := range r.marks {
		if mark.SubjectID != subjectID || (examType != "" && mark.ExamType != examType) {
			continue
		}
		if stats.TotalStudents == 0 || mark.RawScore > stats.HighestMarks {
			stats.HighestMarks = mark.RawScore
		}
		if stats.TotalStudents == 0 || mark.RawScore < stats.LowestMarks {
			stats.LowestMarks = mark.RawScore
		}
		stats.TotalStudents++
		total += mark.RawScore
		if mark.Passed {
			stats.PassCount++
		} else {
			stats.FailCount++
		}
	}
	if stats.TotalStudents > 0 {
		stats.AverageMarks = total / float64(stats.TotalStudents)
	}
	return stats, nil
}
