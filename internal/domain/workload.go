package domain

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownWorkload — идентификатор отсутствует в таблице workloads.
var ErrUnknownWorkload = errors.New("unknown workload")

// WorkloadTable — закрытая таблица: идентификатор → имя workload.
//
// Идентификатор является базовым именем артефактов (<id>.c, <id>.ir, ...),
// имя workload попадает в переменную WORKLOAD. Значение может содержать
// несколько функций верхнего уровня через запятую.
type WorkloadTable map[string]string

// Lookup возвращает имя workload по идентификатору.
func (t WorkloadTable) Lookup(id string) (string, error) {
	name, ok := t[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownWorkload, id)
	}
	return name, nil
}

// IDs возвращает отсортированный список идентификаторов.
func (t WorkloadTable) IDs() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
