package engine

import (
	"fmt"
	"sync"
	"testing"

	"formflow-backend/internal/metadata"
)

func TestResolveTemplate(t *testing.T) {
	vars := map[string]string{
		"user_name":     "Ana",
		"request_title": "Compra de equipo",
		"new_status":    "aprobada",
	}

	got := ResolveTemplate("{user_name} cambió {request_title} a {new_status}", vars)
	want := "Ana cambió Compra de equipo a aprobada"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	// Unknown placeholders stay in place
	got = ResolveTemplate("Hola {desconocido}", vars)
	if got != "Hola {desconocido}" {
		t.Errorf("got %q", got)
	}

	if ResolveTemplate("", vars) != "" {
		t.Error("expected empty template to stay empty")
	}
}

func TestEvaluateNotificationCondition(t *testing.T) {
	ev := &NotificationEvent{
		EventKey:    "status_to_aprobada",
		NewStatus:   "aprobada",
		TriggeredBy: "u1",
		Variables:   map[string]string{"template_name": "Compras"},
	}

	setting := &metadata.NotificationSetting{}
	fire, err := evaluateNotificationCondition(setting, ev)
	if err != nil || !fire {
		t.Errorf("expected empty condition to always fire, got %v/%v", fire, err)
	}

	setting = &metadata.NotificationSetting{Condition: `new_status == "aprobada"`}
	if fire, err = evaluateNotificationCondition(setting, ev); err != nil || !fire {
		t.Errorf("expected condition to fire, got %v/%v", fire, err)
	}

	setting = &metadata.NotificationSetting{Condition: `variables.template_name == "Ventas"`}
	if fire, err = evaluateNotificationCondition(setting, ev); err != nil || fire {
		t.Errorf("expected condition not to fire, got %v/%v", fire, err)
	}

	// Compiled program is cached on the setting
	setting = &metadata.NotificationSetting{Condition: `event == "status_to_aprobada"`}
	if _, err = evaluateNotificationCondition(setting, ev); err != nil {
		t.Fatalf("first evaluation: %v", err)
	}
	compiles := 0
	if _, err = setting.CompileCondition(func(string) (any, error) {
		compiles++
		return nil, nil
	}); err != nil {
		t.Fatalf("cached compile: %v", err)
	}
	if compiles != 0 {
		t.Error("expected compiled condition to be cached after first evaluation")
	}
	if fire, err = evaluateNotificationCondition(setting, ev); err != nil || !fire {
		t.Errorf("cached evaluation: got %v/%v", fire, err)
	}

	setting = &metadata.NotificationSetting{Condition: `no es una expresión (`}
	if _, err = evaluateNotificationCondition(setting, ev); err == nil {
		t.Error("expected compile error for malformed condition")
	}
}

func TestEvaluateNotificationCondition_ConcurrentDispatch(t *testing.T) {
	ev := &NotificationEvent{EventKey: "status_to_aprobada", NewStatus: "aprobada"}
	setting := &metadata.NotificationSetting{Condition: `new_status == "aprobada"`}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fire, err := evaluateNotificationCondition(setting, ev)
			if err != nil {
				errs <- err
				return
			}
			if !fire {
				errs <- fmt.Errorf("expected condition to fire")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	compiles := 0
	setting.CompileCondition(func(string) (any, error) {
		compiles++
		return nil, nil
	})
	if compiles != 0 {
		t.Error("expected exactly one compile across concurrent evaluations")
	}
}

func TestStatusEventKey(t *testing.T) {
	if got := metadata.StatusEventKey(metadata.StatusAprobada); got != "status_to_aprobada" {
		t.Errorf("got %q", got)
	}
}
