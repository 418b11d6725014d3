package bot

// Stop stops receiving Telegram updates (best-effort). Holds and drafts are
// left alone so conversations resume after a restart.
func (b *Bot) Stop() {
	if b == nil || b.tg == nil {
		return
	}
	b.tg.StopReceivingUpdates()
}
