package reminders

import "strings"

// Default reminder bodies, used when the practice has no template for the
// patient's language and none for English either.
var defaultTemplates = map[string]string{
	"en": "Hi {patient_name}, this is a reminder of your appointment at {practice_name} on {date} at {time}. Reply CONFIRM to confirm, CANCEL to cancel, or RESCHEDULE to change it.",
	"es": "Hola {patient_name}, le recordamos su cita en {practice_name} el {date} a las {time}. Responda CONFIRMAR para confirmar, CANCELAR para cancelar o REPROGRAMAR para cambiarla.",
}

var defaultNoShowTemplates = map[string]string{
	"en": "Hi {patient_name}, we missed you at {practice_name} today. Please call us at {phone} to rebook your appointment.",
	"es": "Hola {patient_name}, no pudo asistir a su cita en {practice_name} hoy. Llámenos al {phone} para reprogramarla.",
}

// PickTemplate selects a template by language, falling back to English and
// then to the built-in defaults.
func PickTemplate(templates map[string]string, lang string, noShow bool) string {
	if t, ok := templates[lang]; ok && t != "" {
		return t
	}
	if t, ok := templates["en"]; ok && t != "" {
		return t
	}
	builtin := defaultTemplates
	if noShow {
		builtin = defaultNoShowTemplates
	}
	if t, ok := builtin[lang]; ok {
		return t
	}
	return builtin["en"]
}

// Render substitutes {name} placeholders. Placeholders with no value, or
// whose value is empty, stay literal so a template typo or a missing field
// degrades instead of silently blanking out.
func Render(template string, data map[string]string) string {
	out := template
	for k, v := range data {
		if v == "" {
			continue
		}
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}
