package domain

import (
	"sort"
	"strings"
)

// Command — один внешний процесс: исполняемый файл и аргументы.
type Command struct {
	// Path — имя программы (ищется в PATH) или путь к ней.
	Path string `json:"path"`

	// Args — аргументы без argv[0].
	Args []string `json:"args"`
}

// String возвращает командную строку для логов и dry-run.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}
	return c.Path + " " + strings.Join(c.Args, " ")
}

// Invocation — вызов внешнего инструмента для одной стадии.
//
// Invocation создаётся оркестратором непосредственно перед выполнением
// и отбрасывается после проверки кода возврата.
// Рабочая директория и окружение передаются явно: процесс-родитель
// не меняет свой cwd и свои переменные окружения.
type Invocation struct {
	// Stage — номер стадии.
	Stage Stage `json:"stage"`

	// Dir — рабочая директория дочернего процесса.
	Dir string `json:"dir"`

	// Env — переменные окружения, добавляемые поверх окружения родителя.
	Env map[string]string `json:"env,omitempty"`

	// Commands — команды стадии. Выполняются по порядку,
	// первая ошибка прерывает стадию. У всех стадий, кроме последней,
	// ровно одна команда; последняя линкует и запускает бинарник.
	Commands []Command `json:"commands"`
}

// Name возвращает имя стадии.
func (inv *Invocation) Name() string {
	return inv.Stage.Name()
}

// EnvList возвращает Env в формате KEY=VALUE, отсортированный по ключу.
func (inv *Invocation) EnvList() []string {
	keys := make([]string, 0, len(inv.Env))
	for k := range inv.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	list := make([]string, 0, len(keys))
	for _, k := range keys {
		list = append(list, k+"="+inv.Env[k])
	}
	return list
}
