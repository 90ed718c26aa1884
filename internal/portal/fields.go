package portal

import (
	"encoding/json"
	"fmt"

	"github.com/Veraticus/tollkeeper/internal/browser"
)

// FieldStrategy is one way of locating a form control. Strategies are tried in
// order and the first visible match wins.
type FieldStrategy struct {
	Name     string
	Selector browser.Selector
}

// UsernameStrategies locate the login input.
var UsernameStrategies = []FieldStrategy{
	{Name: "id", Selector: browser.CSS("#username")},
	{Name: "name", Selector: browser.CSS("input[name='username']")},
	{Name: "email type", Selector: browser.CSS("input[type='email']")},
	{Name: "login placeholder", Selector: browser.CSS("input[placeholder*='Логин']")},
	{Name: "email placeholder", Selector: browser.CSS("input[placeholder*='Email']")},
}

// PasswordStrategies locate the password input.
var PasswordStrategies = []FieldStrategy{
	{Name: "id", Selector: browser.CSS("#password")},
	{Name: "name", Selector: browser.CSS("input[name='password']")},
	{Name: "password type", Selector: browser.CSS("input[type='password']")},
	{Name: "password placeholder", Selector: browser.CSS("input[placeholder*='Пароль']")},
}

// SubmitSelector is the primary submit control.
var SubmitSelector = browser.CSS("button[type='submit'], input[type='submit']")

// SubmitWords match the caption of a submit button when SubmitSelector finds nothing.
var SubmitWords = []string{"войти", "вход", "login"}

// submitMarker is set on the button matched by caption so it can be addressed by selector.
const submitMarker = "data-tollkeeper-submit"

// MarkedSubmitSelector addresses the button tagged by submitByTextScript.
var MarkedSubmitSelector = browser.CSS("[" + submitMarker + "]")

func submitByTextScript(words []string) string {
	w, _ := json.Marshal(words)
	return fmt.Sprintf(`(() => {
	const words = %s;
	for (const b of document.querySelectorAll("button")) {
		const text = (b.innerText || "").trim().toLowerCase();
		if (words.some(w => text.includes(w))) {
			b.setAttribute(%q, "1");
			return true;
		}
	}
	return false;
})()`, w, submitMarker)
}
