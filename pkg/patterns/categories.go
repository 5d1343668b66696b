package patterns

// Pattern definitions, grouped by category. Severity values feed the risk
// analyzer's weighted sum (clamped to 100), so a single 70+ pattern is enough
// for a high verdict while 30-69 patterns land in the soft-warn band.

// registerScriptInjectionPatterns covers markup/script payloads. A marketing
// chat never legitimately contains executable markup, so these score high.
func (r *Registry) registerScriptInjectionPatterns() {
	cat := CategoryScriptInjection

	r.register("script_tag", `(?i)<\s*script[\s>]`, cat, 70,
		"Inline <script> tag")
	r.register("iframe_tag", `(?i)<\s*iframe[\s>]`, cat, 60,
		"Embedded iframe")
	r.register("event_handler", `(?i)\bon(error|load|click|mouseover|focus)\s*=`, cat, 55,
		"Inline DOM event handler")
	r.register("javascript_uri", `(?i)javascript\s*:`, cat, 55,
		"javascript: URI scheme")
	r.register("data_uri_html", `(?i)data:text/html`, cat, 50,
		"data: URI carrying HTML")
	r.register("img_exfil", `(?i)<\s*img[^>]+src\s*=`, cat, 40,
		"Image tag, common exfiltration vector")
	r.register("html_entity_run", `(&#x?[0-9a-fA-F]{2,6};){6,}`, cat, 35,
		"Run of HTML entities hiding a payload")
}

// registerCommandInjectionPatterns covers shell-style tokens. Individually
// they can appear in legitimate technical chatter, hence medium severities
// that only escalate when several match.
func (r *Registry) registerCommandInjectionPatterns() {
	cat := CategoryCommandInjection

	r.register("rm_rf", `(?i)\brm\s+-[rf]{1,2}\b`, cat, 60,
		"Destructive rm invocation")
	r.register("subshell", `\$\([^)]{1,120}\)`, cat, 45,
		"Subshell command substitution")
	r.register("backtick_exec", "`[^`]{2,120}`", cat, 35,
		"Backtick command substitution")
	r.register("pipe_to_shell", `(?i)\|\s*(sh|bash|zsh)\b`, cat, 55,
		"Piping content into a shell")
	r.register("curl_pipe", `(?i)\b(curl|wget)\b[^|]{0,120}\|`, cat, 50,
		"Download piped into another command")
	r.register("chained_commands", `(;|&&)\s*(cat|ls|chmod|curl|nc|python)\b`, cat, 40,
		"Chained command execution")
	r.register("etc_passwd", `/etc/(passwd|shadow)`, cat, 60,
		"Sensitive system path probing")
	r.register("sql_tautology", `(?i)('|")\s*or\s+1\s*=\s*1`, cat, 55,
		"Classic SQL tautology probe")
	r.register("sql_drop", `(?i);\s*drop\s+table\b`, cat, 60,
		"SQL DROP TABLE probe")
}

// registerPromptInjectionPatterns covers attempts to derail the assistant
// from the qualification script (FR + EN, the funnel serves both).
func (r *Registry) registerPromptInjectionPatterns() {
	cat := CategoryPromptInjection

	r.register("ignore_instructions_en", `(?i)\b(ignore|disregard|forget)\s+(all\s+)?(previous|prior|your)\s+(instructions|rules|prompt)`, cat, 65,
		"Instruction override attempt")
	r.register("ignore_instructions_fr", `(?i)\b(ignore|oublie)\s+(toutes\s+)?(tes|les)\s+(instructions|consignes|r[eè]gles)`, cat, 65,
		"Instruction override attempt (French)")
	r.register("reveal_prompt_en", `(?i)\b(show|reveal|print|repeat)\s+(me\s+)?(your|the)\s+(system\s+)?prompt`, cat, 60,
		"System prompt extraction")
	r.register("reveal_prompt_fr", `(?i)\b(montre|affiche|r[eé]v[eè]le)[-\s]?(moi)?\s+(ton|le)\s+prompt`, cat, 60,
		"System prompt extraction (French)")
	r.register("roleplay_override", `(?i)\byou\s+are\s+now\s+(a|an|the)\b`, cat, 45,
		"Persona override attempt")
	r.register("dan_style", `(?i)\b(no|without)\s+(restrictions|filters|limits|censorship)\b`, cat, 45,
		"Unrestricted-mode jailbreak phrasing")
	r.register("hidden_instruction", `(?i)\[(system|admin|hidden)\s*:`, cat, 55,
		"Bracketed pseudo-system instruction")
}

// registerCharFloodingPatterns covers filler flooding that regexes can
// express without backreferences; single-rune runs are detected procedurally
// by the risk analyzer.
func (r *Registry) registerCharFloodingPatterns() {
	cat := CategoryCharFlooding

	r.register("punct_run", `[!?.,;:*#@%]{8,}`, cat, 30,
		"Long punctuation run")
	r.register("laugh_spam", `(?i)(ha|ah|ja|lo|md){10,}`, cat, 30,
		"Repeated laugh syllables")
	r.register("caps_run", `[A-Z]{30,}`, cat, 25,
		"Shouting run of capitals")
}

// registerAbusivePhrasePatterns is the curated abusive phrase list. Kept
// deliberately short: the interpreter handles tone, this only catches the
// unambiguous cases.
func (r *Registry) registerAbusivePhrasePatterns() {
	cat := CategoryAbusivePhrase

	r.register("insult_fr", `(?i)\b(connard|conasse|encul[eé]|fdp|nique\s+ta)\b`, cat, 45,
		"Direct insult (French)")
	r.register("insult_en", `(?i)\b(fuck\s+(you|off)|piece\s+of\s+shit|asshole)\b`, cat, 45,
		"Direct insult (English)")
	r.register("threat", `(?i)\b(je\s+vais\s+te\s+(retrouver|tuer)|i\s+will\s+(find|hurt|kill)\s+you)\b`, cat, 60,
		"Direct threat")
	r.register("spam_adult", `(?i)\b(viagra|casino\s+en\s+ligne|crypto\s+pump)\b`, cat, 35,
		"Spam bait phrase")
}

// registerClosurePhrasePatterns matches the assistant's own reply when it
// forcibly ends a conversation for inappropriate behavior. Matching one of
// these selects the short ban duration; severity is unused for scoring.
func (r *Registry) registerClosurePhrasePatterns() {
	cat := CategoryClosurePhrase

	r.register("closure_fr_terme", `(?i)mettre\s+(un\s+terme|fin)\s+[aà]\s+(cette|notre)\s+conversation`, cat, 0,
		"Assistant ends the chat (French)")
	r.register("closure_fr_terminee", `(?i)conversation\s+est\s+(termin[eé]e|close)`, cat, 0,
		"Assistant declares the chat over (French)")
	r.register("closure_fr_comportement", `(?i)comportement\s+inappropri[eé]`, cat, 0,
		"Inappropriate-behavior phrasing (French)")
	r.register("closure_en_end", `(?i)\b(i\s+(have\s+to|must|will)\s+end\s+(this|our)\s+conversation)`, cat, 0,
		"Assistant ends the chat (English)")
	r.register("closure_en_closed", `(?i)this\s+conversation\s+is\s+(now\s+)?(closed|over)`, cat, 0,
		"Assistant declares the chat over (English)")
	r.register("closure_en_behavior", `(?i)inappropriate\s+(behavior|behaviour|language)`, cat, 0,
		"Inappropriate-behavior phrasing (English)")
}
